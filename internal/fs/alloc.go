package fs

import (
	"github.com/rvkern/rvkern/internal/defs"
	"github.com/rvkern/rvkern/internal/limits"
)

// bitsPerBlock is the number of free-block bits packed into one
// bitmap block.
const bitsPerBlock = limits.BSIZE * 8

// balloc finds a free data block, marks it used in the on-disk free
// bitmap (through the log, so the mark survives a crash alongside
// whatever write it backs), zeroes it, and returns its block number.
// Grounded on the bitmap scan the teacher's mkfs.go implies with its
// ninodeblks/ndatablks layout constants, expressed here as a runtime
// operation since this kernel allocates blocks on demand rather than
// only at image-build time.
func (fsys *FS) balloc(hart int32, pid int) (int, defs.Err_t) {
	nblocks := fsys.sb.Lastblock() - fsys.sb.Datastart() + 1
	for b := 0; b < nblocks; b++ {
		blockno := fsys.sb.Datastart() + b
		bitmapBlock := fsys.sb.Freeblock() + b/bitsPerBlock
		bit := uint(b % bitsPerBlock)

		buf, err := fsys.cache.Bread(hart, pid, bitmapBlock)
		if err != nil {
			return 0, -defs.EIO
		}
		byteIdx := bit / 8
		mask := byte(1) << (bit % 8)
		if buf.Data[byteIdx]&mask != 0 {
			fsys.cache.Brelse(hart, pid, buf)
			continue
		}
		buf.Data[byteIdx] |= mask
		fsys.log.LogWrite(hart, buf)
		fsys.cache.Brelse(hart, pid, buf)

		zero, err := fsys.cache.Bread(hart, pid, blockno)
		if err != nil {
			return 0, -defs.EIO
		}
		for i := range zero.Data {
			zero.Data[i] = 0
		}
		fsys.log.LogWrite(hart, zero)
		fsys.cache.Brelse(hart, pid, zero)
		return blockno, 0
	}
	return 0, -defs.ENOSPC
}

// bfree returns a data block to the free bitmap.
func (fsys *FS) bfree(hart int32, pid int, blockno int) {
	b := blockno - fsys.sb.Datastart()
	bitmapBlock := fsys.sb.Freeblock() + b/bitsPerBlock
	bit := uint(b % bitsPerBlock)

	buf, err := fsys.cache.Bread(hart, pid, bitmapBlock)
	if err != nil {
		panic("fs: bfree: cannot read bitmap block")
	}
	byteIdx := bit / 8
	mask := byte(1) << (bit % 8)
	if buf.Data[byteIdx]&mask == 0 {
		fsys.cache.Brelse(hart, pid, buf)
		panic("fs: bfree: freeing already-free block")
	}
	buf.Data[byteIdx] &^= mask
	fsys.log.LogWrite(hart, buf)
	fsys.cache.Brelse(hart, pid, buf)
}

// ialloc scans the inode region for a T_FREE slot, marks it with typ,
// and returns its inode number.
func (fsys *FS) ialloc(hart int32, pid int, typ int) (int, defs.Err_t) {
	ninodes := fsys.sb.Inodelen() * ipb
	for inum := 1; inum < ninodes; inum++ {
		blockno := blockOfInode(fsys.sb.Inodestart(), inum)
		buf, err := fsys.cache.Bread(hart, pid, blockno)
		if err != nil {
			return 0, -defs.EIO
		}
		off := offsetOfInode(inum)
		d := decodeDinode(buf.Data[:], off)
		if d.typ == defs.T_FREE {
			d.typ = typ
			d.nlink = 0
			d.size = 0
			d.encode(buf.Data[:], off)
			fsys.log.LogWrite(hart, buf)
			fsys.cache.Brelse(hart, pid, buf)
			return inum, 0
		}
		fsys.cache.Brelse(hart, pid, buf)
	}
	return 0, -defs.ENOSPC
}
