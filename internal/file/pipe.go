package file

import (
	"sync"

	"github.com/rvkern/rvkern/internal/defs"
	"github.com/rvkern/rvkern/internal/limits"
)

// Pipe is the in-kernel anonymous pipe: a fixed-capacity ring buffer
// shared between a read end and a write end. The head/tail arithmetic
// (unbounded counters, wrapped only at the point of indexing) is
// grounded on the teacher's circbuf.Circbuf_t, but the backing store
// here is a plain kernel-heap []byte rather than a lazily-allocated
// physical page: this kernel's pipes never need to be mapped into a
// user address space (reads/writes always copy through internal/vm at
// the syscall boundary), so circbuf's Cb_ensure/Refup page-pinning
// machinery has nothing to do here.
//
// Both blocking entry points take the calling process as a
// defs.Waiter: a blocked reader or writer polls Killed each time it
// wakes, and registers the ring's own broadcast as its kill hook so
// kill(2) can jolt a wait the process table's wakeup cannot reach.
type Pipe struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf  [limits.PIPESIZE]byte
	head int
	tail int

	readOpen  bool
	writeOpen bool
}

// NewPipe returns a pipe with both ends open.
func NewPipe() *Pipe {
	p := &Pipe{readOpen: true, writeOpen: true}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *Pipe) full() bool  { return p.head-p.tail == limits.PIPESIZE }
func (p *Pipe) empty() bool { return p.head == p.tail }

// jolt is the kill hook: broadcasting under the ring lock means the
// wake cannot slip into the window between a waiter's Killed() check
// and its cond.Wait (both under the same lock).
func (p *Pipe) jolt() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// CloseRead marks the read end closed, waking any blocked writer so
// it can observe the broken pipe.
func (p *Pipe) CloseRead() {
	p.mu.Lock()
	p.readOpen = false
	p.cond.Broadcast()
	p.mu.Unlock()
}

// CloseWrite marks the write end closed, waking any blocked reader so
// it can observe end-of-file once drained.
func (p *Pipe) CloseWrite() {
	p.mu.Lock()
	p.writeOpen = false
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Write copies src into the ring, blocking while the ring is full and
// both ends remain open. Returns -EPIPE if the read end has already
// gone away, -EINTR once w has been killed.
func (p *Pipe) Write(w defs.Waiter, src []byte) (int, defs.Err_t) {
	if w != nil {
		w.OnKill(p.jolt)
		defer w.OnKill(nil)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for n < len(src) {
		if !p.readOpen {
			return n, -defs.EPIPE
		}
		if w != nil && w.Killed() {
			return n, -defs.EINTR
		}
		if p.full() {
			p.cond.Wait()
			continue
		}
		hi := p.head % limits.PIPESIZE
		p.buf[hi] = src[n]
		p.head++
		n++
		p.cond.Broadcast()
	}
	return n, 0
}

// Read copies up to len(dst) bytes out of the ring into dst, blocking
// while the ring is empty and the write end is still open. Returns 0
// once the ring is empty and the write end has closed, matching
// read(2)'s end-of-file convention; -EINTR once w has been killed.
func (p *Pipe) Read(w defs.Waiter, dst []byte) (int, defs.Err_t) {
	if w != nil {
		w.OnKill(p.jolt)
		defer w.OnKill(nil)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.empty() {
		if !p.writeOpen {
			return 0, 0
		}
		if w != nil && w.Killed() {
			return 0, -defs.EINTR
		}
		p.cond.Wait()
	}

	n := 0
	for n < len(dst) && !p.empty() {
		ti := p.tail % limits.PIPESIZE
		dst[n] = p.buf[ti]
		p.tail++
		n++
	}
	p.cond.Broadcast()
	return n, 0
}
