// Package mem implements the physical page allocator (spec.md §4.A):
// a singly linked free list of 4 KiB frames between the end of
// kernel memory and a fixed ceiling, with poison-on-free and
// zero-on-alloc. Grounded on the free-list shape of the teacher's
// mem.Physmem_t, stripped of biscuit's per-CPU refcounted pmap pools
// since demand paging/COW is an explicit Non-goal here.
package mem

import (
	"sync"

	"github.com/rvkern/rvkern/internal/lock"
)

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

// PGSIZE is the size of a single page/frame in bytes.
const PGSIZE = 1 << PGSHIFT

// PGMASK masks the page-aligned portion of an address.
const PGMASK = ^uintptr(PGSIZE - 1)

// Pa_t is a physical address.
type Pa_t uintptr

// Frame is one physical page's backing storage.
type Frame [PGSIZE]byte

const (
	poisonFree  byte = 0x01
	poisonAlloc byte = 0x05
)

type freenode struct {
	frame *Frame
	pa    Pa_t
	next  *freenode
}

// Allocator is the free-list frame allocator. One instance exists per
// kernel boot (spec.md §5 "Free-list of frames (allocator spinlock)").
type Allocator struct {
	lk   lock.Spinlock
	free *freenode
	n    int
	// total ever given to the free list, for leak-detection tests.
	total int

	// dmap stands in for a direct-mapped window onto physical memory
	// (mem.Physmem_t.Dmap in the teacher): given a Pa_t, it recovers
	// the *Frame so page-table walks can dereference a physical
	// address read out of a parent PTE.
	dmap sync.Map // Pa_t -> *Frame
}

// Dmap resolves a physical address to its backing frame, panicking if
// the address was never handed out by this allocator — dereferencing
// a physical address with no backing frame is a programming invariant
// violation, not a recoverable fault.
func (a *Allocator) Dmap(pa Pa_t) *Frame {
	v, ok := a.dmap.Load(pa)
	if !ok {
		panic("mem: dmap miss")
	}
	return v.(*Frame)
}

// NewAllocator builds an allocator over npages freshly backing pages.
// Frames are allocated from the Go heap here since there is no real
// physical address space in a hosted build; Pa_t values are opaque
// tokens unique per frame, not literal memory addresses.
func NewAllocator(npages int, hart int32) *Allocator {
	a := &Allocator{}
	a.lk.Lock(hart)
	defer a.lk.Unlock(hart)
	for i := 0; i < npages; i++ {
		f := &Frame{}
		pa := Pa_t(uintptr(1+i) << PGSHIFT)
		n := &freenode{frame: f, pa: pa, next: a.free}
		a.free = n
		a.n++
		a.total++
		a.dmap.Store(pa, f)
	}
	return a
}

// Alloc unlinks and returns the head of the free list, zero-filled.
// It returns (0, nil, false) when the free list is empty — resource
// exhaustion is recovered locally, not fatal (spec.md §7).
func (a *Allocator) Alloc(hart int32) (Pa_t, *Frame, bool) {
	a.lk.Lock(hart)
	defer a.lk.Unlock(hart)
	if a.free == nil {
		return 0, nil, false
	}
	n := a.free
	a.free = n.next
	a.n--
	for i := range n.frame {
		n.frame[i] = poisonAlloc
	}
	for i := range n.frame {
		n.frame[i] = 0
	}
	return n.pa, n.frame, true
}

// Free relinks a previously allocated frame onto the free list after
// poisoning its contents, matching spec.md §4.A.
func (a *Allocator) Free(hart int32, pa Pa_t, f *Frame) {
	if pa == 0 || f == nil {
		panic("mem: free of nil frame")
	}
	if uintptr(pa)&(PGSIZE-1) != 0 {
		panic("mem: free of unaligned frame")
	}
	for i := range f {
		f[i] = poisonFree
	}
	a.lk.Lock(hart)
	defer a.lk.Unlock(hart)
	n := &freenode{frame: f, pa: pa, next: a.free}
	a.free = n
	a.n++
}

// FreeCount returns the number of frames currently on the free list, used
// by S4's "no leaks in free-frame count" check.
func (a *Allocator) FreeCount(hart int32) int {
	a.lk.Lock(hart)
	defer a.lk.Unlock(hart)
	return a.n
}
