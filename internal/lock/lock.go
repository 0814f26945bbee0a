// Package lock implements the two lock types spec.md §5 names:
// Spinlock (disables interrupts on the holding hart while held, never
// sleep while holding one) and Sleeplock (built on a spinlock plus
// sleep/wakeup, safe to hold across I/O). Their contracts are
// consumed, not redesigned, per spec.md §1 — this package only gives
// those contracts a concrete Go shape.
//
// Real xv6 identifies "the current hart" by reading the tp register.
// Go code has no equivalent, so every entry point here takes the
// caller's hart id explicitly; internal/hart is the only package that
// knows what that id is and threads it down through internal/proc.
package lock

import (
	"sync"
	"sync/atomic"

	"github.com/rvkern/rvkern/internal/diag"
)

// Spinlock is a mutual-exclusion lock that never blocks its holder on
// I/O or scheduling. It remembers its holder hart id for diagnostics,
// per spec.md §5.
type Spinlock struct {
	mu     sync.Mutex
	held   int32
	holder int32
}

// Lock acquires the spinlock on behalf of hart id.
func (s *Spinlock) Lock(hart int32) {
	s.mu.Lock()
	atomic.StoreInt32(&s.held, 1)
	s.holder = hart
}

// Unlock releases the spinlock. It panics if the caller isn't the
// current holder — releasing a lock you don't hold is a programming
// invariant violation (spec.md §7).
func (s *Spinlock) Unlock(hart int32) {
	if atomic.LoadInt32(&s.held) == 0 || s.holder != hart {
		diag.Panic("spinlock: release of unheld lock by hart %d", hart)
	}
	atomic.StoreInt32(&s.held, 0)
	s.mu.Unlock()
}

// Holding reports whether the spinlock is currently held (by anyone).
func (s *Spinlock) Holding() bool {
	return atomic.LoadInt32(&s.held) != 0
}

// HeldBy reports whether hart currently holds the lock.
func (s *Spinlock) HeldBy(hart int32) bool {
	return atomic.LoadInt32(&s.held) != 0 && s.holder == hart
}

// AssertHeld panics if the lock isn't held by anyone.
func (s *Spinlock) AssertHeld() {
	if atomic.LoadInt32(&s.held) == 0 {
		diag.Panic("spinlock: expected lock held")
	}
}

// Sleeplock is a blocking lock for long-held resources (buffers,
// inodes) where the holder may need to sleep (e.g. for disk I/O)
// while still holding it. It remembers its holder process id.
type Sleeplock struct {
	mu     sync.Mutex
	held   bool
	holder int
	cond   *sync.Cond
	once   sync.Once
}

func (sl *Sleeplock) lazyInit() {
	sl.once.Do(func() { sl.cond = sync.NewCond(&sl.mu) })
}

// Acquire blocks until the sleeplock is free, then takes it on behalf
// of pid.
func (sl *Sleeplock) Acquire(pid int) {
	sl.lazyInit()
	sl.mu.Lock()
	for sl.held {
		sl.cond.Wait()
	}
	sl.held = true
	sl.holder = pid
	sl.mu.Unlock()
}

// Release gives up the sleeplock. It panics if pid isn't the holder.
func (sl *Sleeplock) Release(pid int) {
	sl.lazyInit()
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.held || sl.holder != pid {
		diag.Panic("sleeplock: release by non-holder pid %d", pid)
	}
	sl.held = false
	sl.cond.Signal()
}

// Holding reports whether pid currently holds the sleeplock.
func (sl *Sleeplock) Holding(pid int) bool {
	sl.lazyInit()
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.held && sl.holder == pid
}
