package trap

import (
	"testing"

	"github.com/rvkern/rvkern/internal/blockdev"
	"github.com/rvkern/rvkern/internal/console"
	"github.com/rvkern/rvkern/internal/defs"
	"github.com/rvkern/rvkern/internal/fs"
	"github.com/rvkern/rvkern/internal/mem"
	"github.com/rvkern/rvkern/internal/plic"
	"github.com/rvkern/rvkern/internal/proc"
)

const testHart = int32(0)

type nullSink struct{}

func (nullSink) Write(p []byte) (int, error) { return len(p), nil }

func newTestTable(t *testing.T) *proc.Table {
	t.Helper()
	dev := blockdev.NewMemDevice(2 + 8 + 32 + 4 + 200)
	if errno := fs.Format(dev, 8, 32, 200); errno != 0 {
		t.Fatalf("Format: %d", errno)
	}
	fsys, errno := fs.Mount(testHart, 1, dev)
	if errno != 0 {
		t.Fatalf("Mount: %d", errno)
	}
	alloc := mem.NewAllocator(64, testHart)
	return proc.NewTable(alloc, fsys, testHart)
}

func TestUsertrapSyscallAdvancesEpcAndDispatches(t *testing.T) {
	tbl := newTestTable(t)
	called := false
	done := make(chan struct{})

	body := func(hart int32, p *proc.Proc_t) {
		p.TF.Epc = 0x2000
		devs := Devices{Claimer: plic.NoneClaimer{}}
		errno := Usertrap(hart, p, CauseSyscall, devs, tbl, func(hart int32, p *proc.Proc_t) {
			called = true
			p.TF.A0 = 42
		})
		if errno != 0 {
			t.Errorf("Usertrap: %d", errno)
		}
		if p.TF.Epc != 0x2004 {
			t.Errorf("Epc = %#x, want 0x2004", p.TF.Epc)
		}
		if !called {
			t.Error("dispatch was not called")
		}
		if p.TF.A0 != 42 {
			t.Errorf("A0 = %d, want 42", p.TF.A0)
		}
		close(done)
	}
	if _, errno := tbl.UserInit(testHart, body); errno != 0 {
		t.Fatalf("UserInit: %d", errno)
	}
	<-done
}

func TestUsertrapKilledProcessReturnsEINTR(t *testing.T) {
	tbl := newTestTable(t)
	done := make(chan defs.Err_t, 1)

	body := func(hart int32, p *proc.Proc_t) {
		p.SetKilled()
		devs := Devices{Claimer: plic.NoneClaimer{}}
		done <- Usertrap(hart, p, CauseSyscall, devs, tbl, nil)
	}
	if _, errno := tbl.UserInit(testHart, body); errno != 0 {
		t.Fatalf("UserInit: %d", errno)
	}
	if got := <-done; got != -defs.EINTR {
		t.Errorf("Usertrap on killed process = %d, want -EINTR", got)
	}
}

func TestUsertrapExternalIRQFeedsConsole(t *testing.T) {
	tbl := newTestTable(t)
	con := console.New(nullSink{})
	done := make(chan struct{})

	body := func(hart int32, p *proc.Proc_t) {
		devs := Devices{
			Claimer:      fakeUARTClaimer{},
			Console:      con,
			ConsoleInput: func() []byte { return []byte("hi\n") },
		}
		if errno := Usertrap(hart, p, CauseExternalIRQ, devs, tbl, nil); errno != 0 {
			t.Errorf("Usertrap: %d", errno)
		}
		close(done)
	}
	if _, errno := tbl.UserInit(testHart, body); errno != 0 {
		t.Fatalf("UserInit: %d", errno)
	}
	<-done

	buf := make([]byte, 8)
	n, errno := con.Read(nil, buf)
	if errno != 0 {
		t.Fatalf("Read: %d", errno)
	}
	if string(buf[:n]) != "hi\n" {
		t.Errorf("console read = %q, want %q", buf[:n], "hi\n")
	}
}

type fakeUARTClaimer struct{}

func (fakeUARTClaimer) Claim(hartID int32) int        { return plic.IRQUART }
func (fakeUARTClaimer) Complete(hartID int32, irq int) {}
