package proc

import (
	"time"

	"github.com/rvkern/rvkern/internal/defs"
)

// Sleep blocks the calling process (identified by p) until some other
// hart calls Wakeup with the same chan token, or the process is
// killed. Mirrors spec.md §4.I's two-phase sleep: mark SLEEPING under
// the slot lock, release it, wait, then re-acquire before returning,
// so a wakeup racing with the sleep can never be missed (the table's
// own mu/cond, held across both phases, is what the original kernel's
// per-process swtch would otherwise provide).
func (t *Table) Sleep(hart int32, p *Proc_t, chanTok interface{}) {
	t.mu.Lock()
	p.mu.Lock(hart)
	p.Acct.Finish(p.runStart)
	p.state = SLEEPING
	p.chanTok = chanTok
	p.mu.Unlock(hart)

	for p.state == SLEEPING && p.chanTok == chanTok {
		t.cond.Wait()
	}

	p.mu.Lock(hart)
	p.state = RUNNING
	p.runStart = p.Acct.Now()
	p.mu.Unlock(hart)

	t.mu.Unlock()
}

// Wakeup transitions every process sleeping on chanTok to RUNNABLE
// and broadcasts, matching spec.md §4.I's "wakeup scans the whole
// table". A process already killed but still SLEEPING is woken too,
// so it can observe Killed() and unwind at its next safe point.
func (t *Table) Wakeup(chanTok interface{}) {
	t.mu.Lock()
	for _, p := range t.procs {
		if p == nil {
			continue
		}
		if p.state == SLEEPING && p.chanTok == chanTok {
			p.state = RUNNABLE
			p.chanTok = nil
		}
	}
	t.cond.Broadcast()
	t.mu.Unlock()
}

// Kill marks pid killed and, if it is currently SLEEPING, wakes it so
// it can notice Killed() promptly instead of sleeping indefinitely
// (spec.md §4.I / S5's "kill must wake a sleeper").
func (t *Table) Kill(hart int32, pid defs.Pid_t) defs.Err_t {
	p := t.Lookup(pid)
	if p == nil {
		return -defs.ESRCH
	}
	p.mu.Lock(hart)
	p.killed = true
	p.mu.Unlock(hart)

	// The SLEEPING->RUNNABLE transition happens under t.mu, the same
	// lock Sleep's wait loop re-checks state under, so the wake can't
	// be missed.
	t.mu.Lock()
	if p.state == SLEEPING {
		p.state = RUNNABLE
		p.chanTok = nil
	}
	t.cond.Broadcast()
	t.mu.Unlock()

	// Jolt a wait blocked on a pipe or console condition variable,
	// which the table broadcast above can't reach.
	p.hookMu.Lock()
	hook := p.killHook
	p.hookMu.Unlock()
	if hook != nil {
		hook()
	}
	return 0
}

// TicksNow returns the current tick count under the table lock, for
// readers outside the tick path (uptime, sleep deadlines).
func (t *Table) TicksNow() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Ticks
}

// Yield cooperatively gives up the current hart for a scheduling
// quantum. Since each process body already runs as its own goroutine
// (types.go's package doc), yielding the hart is simply yielding the
// goroutine's turn on Go's own M:N scheduler.
func Yield() {
	time.Sleep(0)
}

// TickOnce advances Ticks by one and wakes every process sleeping on
// &Ticks. It is called on hart 0 by cmd/kernel's per-hart loop and by
// internal/trap's Usertrap for a timer interrupt.
func (t *Table) TickOnce() {
	t.mu.Lock()
	t.Ticks++
	t.mu.Unlock()
	t.Wakeup(&t.Ticks)
}
