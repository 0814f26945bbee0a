package fs

import (
	"github.com/rvkern/rvkern/internal/defs"
	"github.com/rvkern/rvkern/internal/limits"
	"github.com/rvkern/rvkern/internal/ustr"
	"github.com/rvkern/rvkern/internal/util"
)

// direntInum reads the 2-byte inode number at the front of a
// DIRENTSZ-byte directory entry. An inum of 0 marks an empty slot.
func direntInum(entry []byte) int {
	return util.Readn(entry, 2, 0)
}

func direntSetInum(entry []byte, inum int) {
	util.Writen(entry, 2, 0, inum)
}

func direntName(entry []byte) ustr.Ustr {
	name := entry[2:limits.DIRENTSZ]
	for i, b := range name {
		if b == 0 {
			return ustr.Ustr(name[:i])
		}
	}
	return ustr.Ustr(name)
}

func direntSetName(entry []byte, name ustr.Ustr) defs.Err_t {
	if len(name) > limits.DIRNAMESZ {
		return -defs.ENAMETOOLONG
	}
	field := entry[2:limits.DIRENTSZ]
	for i := range field {
		field[i] = 0
	}
	copy(field, name)
	return 0
}

// dirlookup scans dir (which must be a locked, valid T_DIR inode) for
// name, returning a referenced-but-unlocked inode and the byte offset
// of its directory entry.
func (fsys *FS) dirlookup(hart int32, pid int, dir *Inode_t, name ustr.Ustr) (*Inode_t, int, defs.Err_t) {
	if dir.dinode.typ != defs.T_DIR {
		return nil, 0, -defs.ENOTDIR
	}
	entry := make([]byte, limits.DIRENTSZ)
	for off := 0; int64(off) < dir.dinode.size; off += limits.DIRENTSZ {
		n, errno := dir.Readi(hart, pid, entry, off)
		if errno != 0 {
			return nil, 0, errno
		}
		if n != limits.DIRENTSZ {
			break
		}
		inum := direntInum(entry)
		if inum == 0 {
			continue
		}
		if direntName(entry).Eq(name) {
			return fsys.Iget(hart, inum), off, 0
		}
	}
	return nil, 0, -defs.ENOENT
}

// dirlink adds a name -> inum mapping to dir, reusing the first empty
// slot if one exists or appending a new entry otherwise. It rejects a
// duplicate name, matching the Non-goal of silent overwrite-on-link.
func (fsys *FS) dirlink(hart int32, pid int, dir *Inode_t, name ustr.Ustr, inum int) defs.Err_t {
	if existing, _, errno := fsys.dirlookup(hart, pid, dir, name); errno == 0 {
		existing.Iput(hart, pid)
		return -defs.EEXIST
	}

	entry := make([]byte, limits.DIRENTSZ)
	off := 0
	for ; int64(off) < dir.dinode.size; off += limits.DIRENTSZ {
		n, errno := dir.Readi(hart, pid, entry, off)
		if errno != 0 {
			return errno
		}
		if n != limits.DIRENTSZ {
			break
		}
		if direntInum(entry) == 0 {
			break
		}
	}

	direntSetInum(entry, inum)
	if errno := direntSetName(entry, name); errno != 0 {
		return errno
	}
	if _, errno := dir.Writei(hart, pid, entry, off); errno != 0 {
		return errno
	}
	return 0
}

// dirunlink clears the directory entry at off back to an empty slot,
// used by unlink after the target inode's link count has already
// been decremented.
func (fsys *FS) dirunlink(hart int32, pid int, dir *Inode_t, off int) defs.Err_t {
	entry := make([]byte, limits.DIRENTSZ)
	direntSetInum(entry, 0)
	if _, errno := dir.Writei(hart, pid, entry, off); errno != 0 {
		return errno
	}
	return 0
}

// dirempty reports whether dir (beyond "." and "..") has no entries,
// the precondition for rmdir.
func (fsys *FS) dirempty(hart int32, pid int, dir *Inode_t) bool {
	entry := make([]byte, limits.DIRENTSZ)
	for off := 2 * limits.DIRENTSZ; int64(off) < dir.dinode.size; off += limits.DIRENTSZ {
		n, errno := dir.Readi(hart, pid, entry, off)
		if errno != 0 || n != limits.DIRENTSZ {
			break
		}
		if direntInum(entry) != 0 {
			return false
		}
	}
	return true
}
