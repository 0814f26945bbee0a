package proc

import (
	"sync"

	"github.com/rvkern/rvkern/internal/defs"
	"github.com/rvkern/rvkern/internal/diag"
	"github.com/rvkern/rvkern/internal/fs"
	"github.com/rvkern/rvkern/internal/limits"
	"github.com/rvkern/rvkern/internal/mem"
	"github.com/rvkern/rvkern/internal/vm"
)

// Table is the fixed-size process table of spec.md §3 ("one of a
// fixed array of process slots, size NPROC"). One instance exists per
// kernel boot.
type Table struct {
	procs [limits.NPROC]*Proc_t

	// waitLock orders *before* any slot lock, never the reverse
	// (spec.md §5's "wait_lock is acquired before any process slot
	// lock" — load-bearing to avoid the parent-wakeup deadlock
	// spec.md §9 calls out).
	waitLock sync.Mutex

	// mu/cond back both Sleep/Wakeup and pidLock's sequencing; see
	// types.go's package doc for why a table-wide condvar stands in
	// for the per-process swtch the original kernel uses.
	mu   sync.Mutex
	cond *sync.Cond

	nextPid defs.Pid_t

	Alloc *mem.Allocator
	FS    *fs.FS

	// trampolinePA is the one physical frame every process page table
	// maps at vm.TRAMPOLINE; allocated once at table construction and
	// never freed for the life of the kernel.
	trampolinePA mem.Pa_t

	// Ticks counts timer interrupts since boot; TickOnce advances it on
	// hart 0 (from cmd/kernel's hart loop and internal/trap's Usertrap
	// timer branch), and sleep(ticks) syscalls sleep on &Ticks, per
	// spec.md §4.J.
	Ticks int

	initProc *Proc_t
}

// NewTable constructs an empty process table backed by alloc (the
// physical page allocator) and fsys (the mounted root filesystem).
// hart identifies the caller for the one-time trampoline frame
// allocation; any valid hart id works since this runs before any
// process exists to race with it.
func NewTable(alloc *mem.Allocator, fsys *fs.FS, hart int32) *Table {
	t := &Table{Alloc: alloc, FS: fsys, nextPid: 1}
	t.cond = sync.NewCond(&t.mu)
	pa, _, ok := alloc.Alloc(hart)
	if !ok {
		diag.Panic("proc: no frame for trampoline at boot")
	}
	t.trampolinePA = pa
	return t
}

// alloc finds an UNUSED slot, transitions it to USED, assigns the
// next pid, and allocates a fresh user page table with the
// trampoline page mapped (the trapframe is a Go field of Proc_t and
// has no mapping) — the shared setup every process
// needs regardless of whether it arrives via userinit or fork
// (spec.md §4.I's allocproc).
func (t *Table) alloc(hart int32) (*Proc_t, defs.Err_t) {
	t.mu.Lock()
	var slot int = -1
	for i, p := range t.procs {
		if p == nil {
			slot = i
			break
		}
		p.mu.Lock(hart)
		if p.state == UNUSED {
			p.mu.Unlock(hart)
			slot = i
			break
		}
		p.mu.Unlock(hart)
	}
	if slot == -1 {
		t.mu.Unlock()
		return nil, -defs.EAGAIN
	}

	// A fresh Proc_t per allocation: a stale pointer into a reaped
	// slot can never alias the slot's next occupant.
	p := &Proc_t{tbl: t}
	p.state = USED
	p.Pid = t.nextPid
	t.nextPid++
	t.procs[slot] = p
	t.mu.Unlock()

	pt := vm.NewUserPagetable(t.Alloc, hart, t.trampolinePA)
	if pt == nil {
		t.freeSlot(hart, p)
		return nil, -defs.ENOMEM
	}
	p.Pagetable = pt
	return p, 0
}

func (t *Table) freeSlot(hart int32, p *Proc_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.mu.Lock(hart)
	p.state = UNUSED
	p.mu.Unlock(hart)
}

// Lookup returns the process slot for pid, or nil.
func (t *Table) Lookup(pid defs.Pid_t) *Proc_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.procs {
		if p != nil && p.Pid == pid && p.state != UNUSED {
			return p
		}
	}
	return nil
}

// ForEach calls f for every non-nil slot, matching the table-scan
// idiom wakeup/kill/scheduler all share. f must not call back into
// Table methods that take t.mu.
func (t *Table) ForEach(f func(p *Proc_t)) {
	t.mu.Lock()
	procs := make([]*Proc_t, 0, limits.NPROC)
	for _, p := range t.procs {
		if p != nil {
			procs = append(procs, p)
		}
	}
	t.mu.Unlock()
	for _, p := range procs {
		f(p)
	}
}
