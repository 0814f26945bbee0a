// Package bio is the block buffer cache between internal/fs and
// internal/blockdev: a fixed number of in-memory block buffers,
// evicted least-recently-used, each guarded by its own sleeplock so a
// caller can hold a block across disk I/O without blocking unrelated
// blocks. Grounded on the cache/list bookkeeping of the teacher's
// fs.Bdev_block_t and fs.BlkList_t (biscuit/src/fs/blk.go), adapted
// from biscuit's reference-counted objcache eviction to a plain
// fixed-capacity LRU list since this kernel has no page-cache-wide
// reclaim daemon (Non-goal).
package bio

import (
	"container/list"

	"github.com/rvkern/rvkern/internal/blockdev"
	"github.com/rvkern/rvkern/internal/limits"
	"github.com/rvkern/rvkern/internal/lock"
)

// Buf is one cached disk block. Callers must hold Lock before reading
// or writing Data, and Unlock (via Cache.Brelse) when done.
type Buf struct {
	Blockno int
	Data    [limits.BSIZE]byte

	valid bool // has data been read from disk
	dirty bool // written by Log* layer, to be written to disk
	pin   int  // reference count that blocks eviction

	sl  lock.Sleeplock
	elt *list.Element // this buf's node in the cache's LRU list
}

// Lock acquires the block's sleeplock on behalf of pid.
func (b *Buf) Lock(pid int) { b.sl.Acquire(pid) }

// Unlock releases the block's sleeplock.
func (b *Buf) Unlock(pid int) { b.sl.Release(pid) }

// Cache is the fixed-capacity LRU block cache. One instance exists
// per mounted filesystem (spec.md §4.C "Buffer cache (LRU, one
// sleeplock per buffer)").
type Cache struct {
	mu       lock.Spinlock
	dev      blockdev.Device
	capacity int
	byBlock  map[int]*list.Element
	lru      *list.List // front = most recently used
}

// NewCache builds a cache of the given capacity (spec.md sizes this
// at limits.NBUF) fronting dev.
func NewCache(dev blockdev.Device, capacity int) *Cache {
	return &Cache{
		dev:      dev,
		capacity: capacity,
		byBlock:  make(map[int]*list.Element, capacity),
		lru:      list.New(),
	}
}

// Bread returns the locked buffer for blockno, reading it from disk
// first if it isn't already cached. The caller must release it with
// Brelse.
func (c *Cache) Bread(hart int32, pid int, blockno int) (*Buf, error) {
	b := c.getBuf(hart, blockno)
	b.Lock(pid)
	if !b.valid {
		if err := c.dev.ReadBlock(blockno, b.Data[:]); err != nil {
			b.Unlock(pid)
			return nil, err
		}
		b.valid = true
	}
	return b, nil
}

// getBuf returns the cache slot for blockno, allocating one (possibly
// evicting the least-recently-used unpinned slot) if it's not
// present. It does not perform I/O.
func (c *Cache) getBuf(hart int32, blockno int) *Buf {
	c.mu.Lock(hart)
	defer c.mu.Unlock(hart)

	if elt, ok := c.byBlock[blockno]; ok {
		c.lru.MoveToFront(elt)
		return elt.Value.(*Buf)
	}

	if c.lru.Len() >= c.capacity {
		c.evictLocked()
	}

	b := &Buf{Blockno: blockno}
	elt := c.lru.PushFront(b)
	b.elt = elt
	c.byBlock[blockno] = elt
	return b
}

// evictLocked drops the least-recently-used unpinned, non-dirty
// buffer to make room for a new one. It panics if every cached buffer
// is pinned or dirty — that means the cache is undersized for the
// working set the caller is asking of it, a configuration error
// rather than a recoverable condition.
func (c *Cache) evictLocked() {
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		b := e.Value.(*Buf)
		if b.pin > 0 || b.dirty {
			continue
		}
		c.lru.Remove(e)
		delete(c.byBlock, b.Blockno)
		return
	}
	panic("bio: no evictable buffer, cache exhausted")
}

// Bwrite writes a locked, dirty buffer through to disk immediately.
// internal/wal uses this to install logged blocks at their home
// locations; ordinary filesystem writes go through the log instead
// (spec.md §4.C).
func (c *Cache) Bwrite(b *Buf) error {
	if err := c.dev.WriteBlock(b.Blockno, b.Data[:]); err != nil {
		return err
	}
	b.dirty = false
	return nil
}

// Brelse releases a locked buffer back to the cache, most-recently
// used.
func (c *Cache) Brelse(hart int32, pid int, b *Buf) {
	c.mu.Lock(hart)
	c.lru.MoveToFront(b.elt)
	c.mu.Unlock(hart)
	b.Unlock(pid)
}

// MarkDirty records that b has been modified in memory and must
// eventually reach disk; internal/wal's LogWrite calls this when a
// transaction records a modified block.
func (c *Cache) MarkDirty(b *Buf) {
	b.dirty = true
}

// Bpin increments b's pin count, excluding it from eviction. Used by
// internal/wal to hold logged blocks in memory across a transaction.
func (c *Cache) Bpin(hart int32, b *Buf) {
	c.mu.Lock(hart)
	b.pin++
	c.mu.Unlock(hart)
}

// Bunpin decrements b's pin count.
func (c *Cache) Bunpin(hart int32, b *Buf) {
	c.mu.Lock(hart)
	if b.pin == 0 {
		c.mu.Unlock(hart)
		panic("bio: unpin of unpinned buffer")
	}
	b.pin--
	c.mu.Unlock(hart)
}

// stats are exposed for tests asserting no unbounded cache growth.
func (c *Cache) cachedCount(hart int32) int {
	c.mu.Lock(hart)
	defer c.mu.Unlock(hart)
	return c.lru.Len()
}
