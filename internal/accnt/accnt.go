// Package accnt accumulates per-process CPU time accounting,
// grounded on the teacher's accnt package.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t accumulates user/system nanoseconds for one process. The
// scheduler threads calls to this type through every context switch
// (see internal/proc), so reporting never needs its own call site.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	mu     sync.Mutex
}

// Utadd adds delta nanoseconds of user time.
func (a *Accnt_t) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

// Systadd adds delta nanoseconds of system time.
func (a *Accnt_t) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

// Finish adds the time elapsed since start to system time; called
// when a process is about to leave the running state.
func (a *Accnt_t) Finish(start int64) {
	a.Systadd(a.Now() - start)
}

// Add merges another process's accounting into this one, used when a
// parent harvests a zombie child's resource usage.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.mu.Lock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
	a.mu.Unlock()
}

// Snapshot returns a consistent (Userns, Sysns) pair.
func (a *Accnt_t) Snapshot() (int64, int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Userns, a.Sysns
}
