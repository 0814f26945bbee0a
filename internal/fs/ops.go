package fs

import (
	"github.com/rvkern/rvkern/internal/defs"
	"github.com/rvkern/rvkern/internal/ustr"
)

// Create resolves path's parent directory and adds a new inode of
// typ, linking "." and ".." when typ is T_DIR. It returns the new
// inode locked, ready for the caller (typically the open(2) handler)
// to continue using without a second lookup.
func (fsys *FS) Create(hart int32, pid int, root, cwd *Inode_t, path ustr.Ustr, typ int) (*Inode_t, defs.Err_t) {
	return fsys.create(hart, pid, root, cwd, path, typ, 0, 0)
}

// CreateDev is Create for typ == T_DEV, additionally recording the
// major/minor pair mknod(2) supplies.
func (fsys *FS) CreateDev(hart int32, pid int, root, cwd *Inode_t, path ustr.Ustr, major, minor int) (*Inode_t, defs.Err_t) {
	return fsys.create(hart, pid, root, cwd, path, defs.T_DEV, major, minor)
}

func (fsys *FS) create(hart int32, pid int, root, cwd *Inode_t, path ustr.Ustr, typ, major, minor int) (*Inode_t, defs.Err_t) {
	fsys.log.Begin(hart)
	defer fsys.log.End(hart, pid)

	dir, name, errno := fsys.NameiParent(hart, pid, root, cwd, path)
	if errno != 0 {
		return nil, errno
	}
	if errno := dir.Ilock(hart, pid); errno != 0 {
		dir.Iput(hart, pid)
		return nil, errno
	}
	defer func() {
		dir.Iunlock(pid)
		dir.Iput(hart, pid)
	}()

	if existing, _, errno := fsys.dirlookup(hart, pid, dir, name); errno == 0 {
		if typ == defs.T_DIR {
			existing.Iput(hart, pid)
			return nil, -defs.EEXIST
		}
		if errno := existing.Ilock(hart, pid); errno != 0 {
			existing.Iput(hart, pid)
			return nil, errno
		}
		if existing.dinode.typ != defs.T_FILE && existing.dinode.typ != defs.T_DEV {
			existing.Iunlock(pid)
			existing.Iput(hart, pid)
			return nil, -defs.EPERM
		}
		return existing, 0
	}

	inum, errno := fsys.ialloc(hart, pid, typ)
	if errno != 0 {
		return nil, errno
	}
	ip := fsys.Iget(hart, inum)
	if errno := ip.Ilock(hart, pid); errno != 0 {
		ip.Iput(hart, pid)
		return nil, errno
	}
	ip.dinode.nlink = 1
	ip.dinode.major = major
	ip.dinode.minor = minor
	if errno := ip.Iupdate(hart, pid); errno != 0 {
		ip.Iunlock(pid)
		ip.Iput(hart, pid)
		return nil, errno
	}

	if typ == defs.T_DIR {
		if errno := fsys.dirlink(hart, pid, ip, ustr.Dot, inum); errno != 0 {
			ip.Iunlock(pid)
			ip.Iput(hart, pid)
			return nil, errno
		}
		if errno := fsys.dirlink(hart, pid, ip, ustr.DotDot, dir.Inum); errno != 0 {
			ip.Iunlock(pid)
			ip.Iput(hart, pid)
			return nil, errno
		}
		dir.dinode.nlink++
		if errno := dir.Iupdate(hart, pid); errno != 0 {
			ip.Iunlock(pid)
			ip.Iput(hart, pid)
			return nil, errno
		}
	}

	if errno := fsys.dirlink(hart, pid, dir, name, inum); errno != 0 {
		ip.dinode.nlink = 0
		ip.Iupdate(hart, pid)
		ip.Iunlock(pid)
		ip.Iput(hart, pid)
		return nil, errno
	}

	return ip, 0
}

// Unlink removes path's directory entry and decrements the target
// inode's link count, freeing the inode once its last reference and
// last link are both gone. Refuses to unlink a non-empty directory or
// "." / "..".
func (fsys *FS) Unlink(hart int32, pid int, root, cwd *Inode_t, path ustr.Ustr) defs.Err_t {
	fsys.log.Begin(hart)
	defer fsys.log.End(hart, pid)

	dir, name, errno := fsys.NameiParent(hart, pid, root, cwd, path)
	if errno != 0 {
		return errno
	}
	if name.Isdot() || name.Isdotdot() {
		dir.Iput(hart, pid)
		return -defs.EPERM
	}
	if errno := dir.Ilock(hart, pid); errno != 0 {
		dir.Iput(hart, pid)
		return errno
	}
	defer func() {
		dir.Iunlock(pid)
		dir.Iput(hart, pid)
	}()

	target, off, errno := fsys.dirlookup(hart, pid, dir, name)
	if errno != 0 {
		return errno
	}
	if errno := target.Ilock(hart, pid); errno != 0 {
		target.Iput(hart, pid)
		return errno
	}
	if target.dinode.typ == defs.T_DIR && !fsys.dirempty(hart, pid, target) {
		target.Iunlock(pid)
		target.Iput(hart, pid)
		return -defs.ENOTEMPTY
	}

	if errno := fsys.dirunlink(hart, pid, dir, off); errno != 0 {
		target.Iunlock(pid)
		target.Iput(hart, pid)
		return errno
	}
	if target.dinode.typ == defs.T_DIR {
		dir.dinode.nlink--
		dir.Iupdate(hart, pid)
	}
	target.dinode.nlink--
	target.Iupdate(hart, pid)
	target.Iunlock(pid)
	target.Iput(hart, pid)
	return 0
}
