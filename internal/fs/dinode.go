package fs

import (
	"github.com/rvkern/rvkern/internal/defs"
	"github.com/rvkern/rvkern/internal/limits"
	"github.com/rvkern/rvkern/internal/util"
)

// dinodeSize is the on-disk footprint of one inode: a 4-byte type, a
// 4-byte link count, an 8-byte size, a 4-byte major and a 4-byte minor
// (meaningful only for T_DEV), and NDIRECT+1 4-byte block pointers
// (direct addresses plus the single indirect pointer).
const dinodeSize = 24 + (limits.NDIRECT+1)*4

// ipb is the number of inodes packed per disk block. Any slack bytes
// at the end of a block go unused, same as the teacher's inode block
// layout.
const ipb = limits.BSIZE / dinodeSize

// blockOfInode returns the block number holding inode n, given where
// the inode region starts.
func blockOfInode(inodestart, n int) int {
	return inodestart + n/ipb
}

// offsetOfInode returns n's byte offset within its block.
func offsetOfInode(n int) int {
	return (n % ipb) * dinodeSize
}

// dinode is the decoded on-disk representation of one inode.
type dinode struct {
	typ   int
	nlink int
	size  int64
	major int
	minor int
	addrs [limits.NDIRECT + 1]int
}

func decodeDinode(block []byte, off int) dinode {
	var d dinode
	d.typ = util.Readn(block, 4, off)
	d.nlink = util.Readn(block, 4, off+4)
	d.size = int64(util.Readn(block, 8, off+8))
	d.major = util.Readn(block, 4, off+16)
	d.minor = util.Readn(block, 4, off+20)
	base := off + 24
	for i := range d.addrs {
		d.addrs[i] = util.Readn(block, 4, base+i*4)
	}
	return d
}

func (d *dinode) encode(block []byte, off int) {
	util.Writen(block, 4, off, d.typ)
	util.Writen(block, 4, off+4, d.nlink)
	util.Writen(block, 8, off+8, int(d.size))
	util.Writen(block, 4, off+16, d.major)
	util.Writen(block, 4, off+20, d.minor)
	base := off + 24
	for i := range d.addrs {
		util.Writen(block, 4, base+i*4, d.addrs[i])
	}
}

func zeroedDinode() dinode {
	return dinode{typ: defs.T_FREE}
}
