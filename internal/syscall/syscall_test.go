package syscall

import (
	"testing"
	"time"

	"github.com/rvkern/rvkern/internal/blockdev"
	"github.com/rvkern/rvkern/internal/console"
	"github.com/rvkern/rvkern/internal/defs"
	"github.com/rvkern/rvkern/internal/fs"
	"github.com/rvkern/rvkern/internal/mem"
	"github.com/rvkern/rvkern/internal/proc"
	"github.com/rvkern/rvkern/internal/ustr"
)

const testHart = int32(0)

type nullSink struct{}

func (nullSink) Write(p []byte) (int, error) { return len(p), nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dev := blockdev.NewMemDevice(2 + 8 + 32 + 4 + 200)
	if errno := fs.Format(dev, 8, 32, 200); errno != 0 {
		t.Fatalf("Format: %d", errno)
	}
	fsys, errno := fs.Mount(testHart, 1, dev)
	if errno != 0 {
		t.Fatalf("Mount: %d", errno)
	}
	alloc := mem.NewAllocator(128, testHart)
	tbl := proc.NewTable(alloc, fsys, testHart)
	return &Server{Tbl: tbl, Console: console.New(nullSink{})}
}

// call sets A7 plus the given argument registers, invokes Dispatch,
// and returns A0 as a defs.Err_t, standing in for a user program
// issuing one ecall.
func call(s *Server, hart int32, p *proc.Proc_t, num uint64, args ...uint64) defs.Err_t {
	p.TF.A7 = num
	regs := []*uint64{&p.TF.A0, &p.TF.A1, &p.TF.A2, &p.TF.A3, &p.TF.A4, &p.TF.A5}
	for i, a := range args {
		*regs[i] = a
	}
	s.Dispatch(hart, p)
	return defs.Err_t(int64(p.TF.A0))
}

func writeUserString(t *testing.T, p *proc.Proc_t, hart int32, va uintptr, s string) {
	t.Helper()
	b := append([]byte(s), 0)
	if errno := p.Pagetable.Copyout(hart, va, b); errno != 0 {
		t.Fatalf("Copyout: %d", errno)
	}
}

func TestOpenCreateWriteCloseReadRoundTrip(t *testing.T) {
	s := newTestServer(t)
	done := make(chan struct{})

	body := func(hart int32, p *proc.Proc_t) {
		const pathVA = 0x2000
		sz, ok := p.Pagetable.Uvmalloc(hart, 0, 0x3000, 0x6)
		if !ok {
			t.Fatal("Uvmalloc failed")
		}
		p.Sz = sz
		writeUserString(t, p, hart, pathVA, "greeting.txt")

		fd := call(s, hart, p, SysOpen, pathVA, uint64(defs.O_CREAT|defs.O_RDWR))
		if fd < 0 {
			t.Fatalf("open: %d", fd)
		}

		const dataVA = 0x2100
		msg := "hello, kernel"
		writeUserString(t, p, hart, dataVA, msg)

		n := call(s, hart, p, SysWrite, uint64(fd), dataVA, uint64(len(msg)))
		if int(n) != len(msg) {
			t.Fatalf("write returned %d, want %d", n, len(msg))
		}

		if errno := call(s, hart, p, SysClose, uint64(fd)); errno != 0 {
			t.Fatalf("close: %d", errno)
		}

		fd2 := call(s, hart, p, SysOpen, pathVA, uint64(defs.O_RDONLY))
		if fd2 < 0 {
			t.Fatalf("reopen: %d", fd2)
		}
		const readVA = 0x2200
		n2 := call(s, hart, p, SysRead, uint64(fd2), readVA, uint64(len(msg)))
		if int(n2) != len(msg) {
			t.Fatalf("read returned %d, want %d", n2, len(msg))
		}
		got := make([]byte, len(msg))
		if errno := p.Pagetable.Copyin(hart, got, readVA); errno != 0 {
			t.Fatalf("Copyin: %d", errno)
		}
		if string(got) != msg {
			t.Fatalf("read back %q, want %q", got, msg)
		}
		close(done)
	}
	if _, errno := s.Tbl.UserInit(testHart, body); errno != 0 {
		t.Fatalf("UserInit: %d", errno)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("open/write/close/read never completed")
	}
}

func TestMkdirLinkUnlink(t *testing.T) {
	s := newTestServer(t)
	done := make(chan struct{})

	body := func(hart int32, p *proc.Proc_t) {
		sz, ok := p.Pagetable.Uvmalloc(hart, 0, 0x3000, 0x6)
		if !ok {
			t.Fatal("Uvmalloc failed")
		}
		p.Sz = sz

		writeUserString(t, p, hart, 0x2000, "d1")
		if errno := call(s, hart, p, SysMkdir, 0x2000); errno != 0 {
			t.Fatalf("mkdir: %d", errno)
		}

		writeUserString(t, p, hart, 0x2100, "orig.txt")
		fd := call(s, hart, p, SysOpen, 0x2100, uint64(defs.O_CREAT|defs.O_RDWR))
		if fd < 0 {
			t.Fatalf("open: %d", fd)
		}
		call(s, hart, p, SysClose, uint64(fd))

		writeUserString(t, p, hart, 0x2200, "alias.txt")
		if errno := call(s, hart, p, SysLink, 0x2100, 0x2200); errno != 0 {
			t.Fatalf("link: %d", errno)
		}

		if errno := call(s, hart, p, SysUnlink, 0x2100); errno != 0 {
			t.Fatalf("unlink orig: %d", errno)
		}

		root := s.Tbl.FS.Root(hart)
		ip, errno := s.Tbl.FS.Namei(hart, int(p.Pid), root, p.Cwd, ustr.Ustr("alias.txt"))
		root.Iput(hart, int(p.Pid))
		if errno != 0 {
			t.Fatalf("alias.txt missing after unlinking original name: %d", errno)
		}
		ip.Iput(hart, int(p.Pid))
		close(done)
	}
	if _, errno := s.Tbl.UserInit(testHart, body); errno != 0 {
		t.Fatalf("UserInit: %d", errno)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("mkdir/link/unlink never completed")
	}
}

func TestPipeSyscallRoundTripsThroughFork(t *testing.T) {
	s := newTestServer(t)
	done := make(chan struct{})

	body := func(hart int32, p *proc.Proc_t) {
		sz, ok := p.Pagetable.Uvmalloc(hart, 0, 0x3000, 0x6)
		if !ok {
			t.Fatal("Uvmalloc failed")
		}
		p.Sz = sz

		const fdsVA = 0x2000
		if errno := call(s, hart, p, SysPipe, fdsVA); errno != 0 {
			t.Fatalf("pipe: %d", errno)
		}
		fdsBuf := make([]byte, 8)
		if errno := p.Pagetable.Copyin(hart, fdsBuf, fdsVA); errno != 0 {
			t.Fatalf("Copyin: %d", errno)
		}
		rfd := uint64(int32(fdsBuf[0]) | int32(fdsBuf[1])<<8 | int32(fdsBuf[2])<<16 | int32(fdsBuf[3])<<24)
		wfd := uint64(int32(fdsBuf[4]) | int32(fdsBuf[5])<<8 | int32(fdsBuf[6])<<16 | int32(fdsBuf[7])<<24)

		childBody := func(hart int32, c *proc.Proc_t) {
			const msgVA = 0x2100
			msg := "ping"
			writeUserString(t, c, hart, msgVA, msg)
			call(s, hart, c, SysWrite, wfd, msgVA, uint64(len(msg)))
			call(s, hart, c, SysClose, wfd)
			s.Tbl.Exit(hart, c, 0)
		}
		pid, errno := s.Tbl.Fork(hart, p, childBody)
		if errno != 0 {
			t.Fatalf("Fork: %d", errno)
		}
		_ = pid

		call(s, hart, p, SysClose, wfd)
		const readVA = 0x2200
		n := call(s, hart, p, SysRead, rfd, readVA, 4)
		if int(n) != 4 {
			t.Fatalf("read from pipe = %d, want 4", n)
		}
		got := make([]byte, 4)
		p.Pagetable.Copyin(hart, got, readVA)
		if string(got) != "ping" {
			t.Fatalf("pipe contents = %q, want %q", got, "ping")
		}

		if _, _, errno := s.Tbl.Wait(hart, p); errno != 0 {
			t.Fatalf("Wait: %d", errno)
		}
		close(done)
	}
	if _, errno := s.Tbl.UserInit(testHart, body); errno != 0 {
		t.Fatalf("UserInit: %d", errno)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipe round trip through fork never completed")
	}
}
