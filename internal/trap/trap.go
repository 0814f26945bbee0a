// Package trap implements the hosted equivalent of spec.md §4.J's
// usertrap/usertrapret/kerneltrap/devintr dispatch. A real build
// reaches this code from the trampoline after scause identifies why
// control left user mode; there is no assembly trampoline here, so
// callers (cmd/kernel's init body, or a test) supply the cause
// directly instead of it being decoded from a CSR read.
package trap

import (
	"github.com/rvkern/rvkern/internal/console"
	"github.com/rvkern/rvkern/internal/defs"
	"github.com/rvkern/rvkern/internal/plic"
	"github.com/rvkern/rvkern/internal/proc"
)

// Cause is why control reached the trap handler, standing in for a
// decoded scause value.
type Cause int

const (
	CauseSyscall Cause = iota
	CauseTimerIRQ
	CauseExternalIRQ
	CauseFault
)

// Dispatch executes the syscall already encoded in p's Trapframe
// (conventionally A7 holds the number, A0-A5 the arguments) and
// stores its result in A0, mirroring spec.md §4.K's syscall() switch.
type Dispatch func(hart int32, p *proc.Proc_t)

// Devices bundles the interrupt-claiming PLIC and the console device
// devintr forwards UART IRQs to, matching spec.md §4.J's devintr
// needing both to decide whether an IRQ was actually handled.
type Devices struct {
	Claimer plic.Claimer
	Console *console.Console
	// ConsoleInput supplies the bytes a real UART IRQ would have
	// delivered; tests set this to drive Feed without a real driver.
	ConsoleInput func() []byte
}

// Usertrap is the hosted usertrap/kerneltrap: given why control
// arrived here, it advances past the causing instruction (for a
// syscall, Epc moves past the ecall exactly as the real trampoline's
// "epc += 4" does), runs the appropriate handler, and reports whether
// the process should continue running. It returns -EINTR once p has
// been killed, matching spec.md §4.J's "a killed process unwinds
// through the next trap/syscall instead of continuing".
func Usertrap(hart int32, p *proc.Proc_t, cause Cause, devs Devices, tbl *proc.Table, dispatch Dispatch) defs.Err_t {
	switch cause {
	case CauseSyscall:
		p.TF.Epc += 4
		if p.Killed() {
			return -defs.EINTR
		}
		if dispatch != nil {
			dispatch(hart, p)
		}
	case CauseTimerIRQ:
		if hart == 0 {
			tbl.TickOnce()
		}
	case CauseExternalIRQ:
		devintr(hart, devs)
	case CauseFault:
		p.SetKilled()
	}
	if p.Killed() {
		return -defs.EINTR
	}
	return 0
}

// devintr claims and completes one external IRQ, feeding the console
// device's read ring for a UART IRQ, exactly as spec.md §4.J's devintr
// does for IRQUART before acknowledging it to the PLIC.
func devintr(hart int32, devs Devices) bool {
	irq := devs.Claimer.Claim(hart)
	if irq == 0 {
		return false
	}
	switch irq {
	case plic.IRQUART:
		if devs.Console != nil && devs.ConsoleInput != nil {
			if p := devs.ConsoleInput(); len(p) > 0 {
				devs.Console.Feed(p)
			}
		}
	case plic.IRQVirtio:
		// block-device completion interrupts are consumed by
		// internal/blockdev's own I/O path in this hosted kernel
		// (synchronous FileDevice/MemDevice), so there is nothing
		// further to do here beyond acknowledging it.
	}
	devs.Claimer.Complete(hart, irq)
	return true
}
