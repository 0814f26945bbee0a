// Package diag implements the "programming invariants are fatal"
// branch of spec.md §7: there is no unwinding path for a corrupted
// kernel data structure, only a diagnostic dump and a halt.
package diag

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/rvkern/rvkern/internal/caller"
)

// BootID identifies this kernel instance so that a fatal panic raised
// from multiple harts concurrently (see internal/hart) can be
// correlated in a single crash report, instead of producing several
// interleaved, unattributed stack dumps.
var BootID = uuid.New().String()

var panicOnce sync.Once

// Panic prints a tagged diagnostic and halts the process. It is the
// only response to a violated kernel invariant (double free, lock
// released by a non-holder, freewalk over a non-leaf level, and so
// on) per spec.md §7.
func Panic(format string, args ...interface{}) {
	panicOnce.Do(func() {
		msg := fmt.Sprintf(format, args...)
		fmt.Fprintf(os.Stderr, "kernel panic [boot %s]: %s\n%s", BootID, msg, caller.Dump(2))
		panic(msg)
	})
	// A second hart racing to report a panic just blocks forever;
	// the first hart's panic() is already unwinding the process.
	select {}
}
