package fs

import (
	"github.com/rvkern/rvkern/internal/blockdev"
	"github.com/rvkern/rvkern/internal/defs"
	"github.com/rvkern/rvkern/internal/limits"
	"github.com/rvkern/rvkern/internal/ustr"
)

// Layout lays out a fresh filesystem's block regions, mirroring the
// constants cmd/mkfs derives from the teacher's
// nlogblks/ninodeblks/ndatablks mkfs.go parameters, but computed here
// so both mkfs and Format agree on where each region starts.
type Layout struct {
	Logstart     int
	Loglen       int
	Inodestart   int
	Inodelen     int
	Freeblock    int
	Freeblocklen int
	Datastart    int
	Lastblock    int
}

// planLayout computes a Layout for a device holding the given number
// of log, inode, and data blocks, starting after the boot block (0)
// and superblock (1).
func planLayout(nlogblks, ninodeblks, ndatablks int) Layout {
	var l Layout
	l.Logstart = 2
	l.Loglen = nlogblks
	l.Inodestart = l.Logstart + l.Loglen
	l.Inodelen = ninodeblks
	l.Freeblock = l.Inodestart + l.Inodelen
	l.Freeblocklen = (ndatablks + bitsPerBlock - 1) / bitsPerBlock
	l.Datastart = l.Freeblock + l.Freeblocklen
	l.Lastblock = l.Datastart + ndatablks - 1
	return l
}

func writeDirent(block []byte, off int, inum int, name ustr.Ustr) {
	entry := block[off : off+limits.DIRENTSZ]
	direntSetInum(entry, inum)
	direntSetName(entry, name)
}

// Format writes a brand-new filesystem to dev: a superblock, an empty
// log, a zeroed inode region, a zeroed free-block bitmap, and a root
// directory inode with "." and ".." entries. It writes directly
// through dev rather than through internal/wal, since there is no
// committed state yet to protect — the teacher's own mkfs.go (via
// ufs.MkDisk) builds its image the same way, before ufs.BootFS ever
// brings up a log.
func Format(dev blockdev.Device, nlogblks, ninodeblks, ndatablks int) defs.Err_t {
	layout := planLayout(nlogblks, ninodeblks, ndatablks)
	if layout.Lastblock >= dev.NBlocks() {
		return -defs.ENOSPC
	}

	zero := make([]byte, limits.BSIZE)
	for b := 0; b <= layout.Lastblock; b++ {
		if err := dev.WriteBlock(b, zero); err != nil {
			return -defs.EIO
		}
	}

	const rootino = 1
	var sb Superblock_t
	sb.SetLogstart(layout.Logstart)
	sb.SetLoglen(layout.Loglen)
	sb.SetInodestart(layout.Inodestart)
	sb.SetInodelen(layout.Inodelen)
	sb.SetFreeblock(layout.Freeblock)
	sb.SetFreeblocklen(layout.Freeblocklen)
	sb.SetDatastart(layout.Datastart)
	sb.SetLastblock(layout.Lastblock)
	sb.SetRootino(rootino)
	if err := dev.WriteBlock(1, sb.data[:]); err != nil {
		return -defs.EIO
	}

	// The root directory's own data block ("." and ".." pointing at
	// itself) is the first data block; mark it used in the bitmap
	// before any runtime balloc call can hand it out again.
	rootDataBlockno := layout.Datastart
	bitmapBlock := make([]byte, limits.BSIZE)
	bitmapBlock[0] = 0x01
	if err := dev.WriteBlock(layout.Freeblock, bitmapBlock); err != nil {
		return -defs.EIO
	}

	dirBlock := make([]byte, limits.BSIZE)
	writeDirent(dirBlock, 0, rootino, ustr.Dot)
	writeDirent(dirBlock, limits.DIRENTSZ, rootino, ustr.DotDot)
	if err := dev.WriteBlock(rootDataBlockno, dirBlock); err != nil {
		return -defs.EIO
	}

	// Write the root inode directly into its inode block.
	inodeBlockno := blockOfInode(layout.Inodestart, rootino)
	inodeBlock := make([]byte, limits.BSIZE)
	root := dinode{typ: defs.T_DIR, nlink: 2, size: 2 * limits.DIRENTSZ}
	root.addrs[0] = rootDataBlockno
	root.encode(inodeBlock, offsetOfInode(rootino))
	if err := dev.WriteBlock(inodeBlockno, inodeBlock); err != nil {
		return -defs.EIO
	}

	if err := dev.Flush(); err != nil {
		return -defs.EIO
	}
	return 0
}
