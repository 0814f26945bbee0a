// Package plic defines the interrupt-controller boundary spec.md §1
// excludes from redesign: per-hart claim/complete for UART and virtio
// IRQ numbers. internal/trap consumes this interface to dispatch
// device interrupts (spec.md §4.J's devintr) without owning any PLIC
// register-level code itself. A conformant bare-metal build supplies
// a real MMIO-backed Claimer; tests supply a fake one that never
// claims anything, since no device interrupt path is exercised
// without real hardware (EXPANSION, see SPEC_FULL.md §6).
package plic

// IRQ numbers claimed/completed through a Claimer, matching the
// fixed UART/virtio assignment a real PLIC wiring would report.
const (
	IRQUART   = 10
	IRQVirtio = 1
)

// Claimer is the per-hart S-mode claim/complete contract spec.md §6
// describes for the PLIC.
type Claimer interface {
	// Claim returns the highest-priority pending IRQ for the calling
	// hart, or 0 if none is pending.
	Claim(hartID int32) int
	// Complete acknowledges that irq has been serviced.
	Complete(hartID int32, irq int)
}

// NoneClaimer is a Claimer that never reports a pending IRQ, used by
// hosted tests that drive the kernel purely through syscalls and
// never need devintr's external-interrupt branch.
type NoneClaimer struct{}

func (NoneClaimer) Claim(hartID int32) int        { return 0 }
func (NoneClaimer) Complete(hartID int32, irq int) {}
