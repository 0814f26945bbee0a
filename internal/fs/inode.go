package fs

import (
	"github.com/rvkern/rvkern/internal/defs"
	"github.com/rvkern/rvkern/internal/limits"
	"github.com/rvkern/rvkern/internal/lock"
	"github.com/rvkern/rvkern/internal/stat"
	"github.com/rvkern/rvkern/internal/util"
)

// Inode_t is the in-memory handle for one on-disk inode: a cache slot
// shared by every open reference to the same file, guarded by its own
// sleeplock so a long write doesn't block unrelated inodes (spec.md
// §4.C). Grounded on the ref-counted cache-entry shape the teacher's
// Bdev_block_t uses for blocks, applied here one level up to inodes.
type Inode_t struct {
	fsys  *FS
	sl    lock.Sleeplock
	Inum  int
	ref   int // protected by fsys.icLk, not sl
	valid bool
	dinode
}

// Iget returns the cached Inode_t for inum, creating a cache slot (but
// not yet reading it from disk — that happens in Ilock) if necessary.
func (fsys *FS) Iget(hart int32, inum int) *Inode_t {
	fsys.icLk.Lock(hart)
	defer fsys.icLk.Unlock(hart)

	if ip, ok := fsys.icache[inum]; ok {
		ip.ref++
		return ip
	}
	ip := &Inode_t{fsys: fsys, Inum: inum}
	fsys.icache[inum] = ip
	ip.ref++
	return ip
}

// Ilock locks ip and, the first time any reference is locked, reads
// its contents in from disk.
func (ip *Inode_t) Ilock(hart int32, pid int) defs.Err_t {
	ip.sl.Acquire(pid)
	if ip.valid {
		return 0
	}
	blockno := blockOfInode(ip.fsys.sb.Inodestart(), ip.Inum)
	buf, err := ip.fsys.cache.Bread(hart, pid, blockno)
	if err != nil {
		ip.sl.Release(pid)
		return -defs.EIO
	}
	ip.dinode = decodeDinode(buf.Data[:], offsetOfInode(ip.Inum))
	ip.fsys.cache.Brelse(hart, pid, buf)
	if ip.dinode.typ == defs.T_FREE {
		ip.sl.Release(pid)
		return -defs.ENOENT
	}
	ip.valid = true
	return 0
}

// Iunlock releases ip's sleeplock without touching its cache entry.
func (ip *Inode_t) Iunlock(pid int) {
	ip.sl.Release(pid)
}

// Iupdate writes ip's in-memory dinode fields back to its disk block,
// through the log so the write joins the caller's transaction.
func (ip *Inode_t) Iupdate(hart int32, pid int) defs.Err_t {
	blockno := blockOfInode(ip.fsys.sb.Inodestart(), ip.Inum)
	buf, err := ip.fsys.cache.Bread(hart, pid, blockno)
	if err != nil {
		return -defs.EIO
	}
	ip.dinode.encode(buf.Data[:], offsetOfInode(ip.Inum))
	ip.fsys.log.LogWrite(hart, buf)
	ip.fsys.cache.Brelse(hart, pid, buf)
	return 0
}

// Iput drops one reference to ip. Only the LAST cache reference to an
// inode with no remaining links frees it — the classic "unlink of a
// still-open file completes on last close" behavior. An earlier
// reference must leave the inode intact: other holders of the same
// cached Inode_t are still reading and writing through it.
func (ip *Inode_t) Iput(hart int32, pid int) {
	ip.fsys.icLk.Lock(hart)
	if ip.ref == 1 && ip.valid && ip.dinode.nlink == 0 {
		// ref == 1 means no other holder, and nlink == 0 means no
		// directory entry names this inode, so no path walk can Iget
		// it while the lock is dropped for the truncate I/O.
		ip.fsys.icLk.Unlock(hart)

		ip.sl.Acquire(pid)
		ip.itrunc(hart, pid)
		ip.dinode.typ = defs.T_FREE
		ip.Iupdate(hart, pid)
		ip.valid = false
		ip.sl.Release(pid)

		ip.fsys.icLk.Lock(hart)
	}
	ip.ref--
	if ip.ref == 0 {
		delete(ip.fsys.icache, ip.Inum)
	}
	ip.fsys.icLk.Unlock(hart)
}

// bmap returns the data block number holding the bn'th block of ip's
// content, allocating it (and, for the first indirect-range block,
// the indirect block itself) if it doesn't exist yet.
func (ip *Inode_t) bmap(hart int32, pid int, bn int) (int, defs.Err_t) {
	if bn < limits.NDIRECT {
		if ip.dinode.addrs[bn] == 0 {
			blockno, errno := ip.fsys.balloc(hart, pid)
			if errno != 0 {
				return 0, errno
			}
			ip.dinode.addrs[bn] = blockno
		}
		return ip.dinode.addrs[bn], 0
	}

	bn -= limits.NDIRECT
	if bn >= limits.NINDIRECT {
		return 0, -defs.EFBIG
	}

	indirectBlockno := ip.dinode.addrs[limits.NDIRECT]
	if indirectBlockno == 0 {
		blockno, errno := ip.fsys.balloc(hart, pid)
		if errno != 0 {
			return 0, errno
		}
		ip.dinode.addrs[limits.NDIRECT] = blockno
		indirectBlockno = blockno
	}

	indBuf, err := ip.fsys.cache.Bread(hart, pid, indirectBlockno)
	if err != nil {
		return 0, -defs.EIO
	}
	off := bn * 4
	target := util.Readn(indBuf.Data[:], 4, off)
	if target == 0 {
		blockno, errno := ip.fsys.balloc(hart, pid)
		if errno != 0 {
			ip.fsys.cache.Brelse(hart, pid, indBuf)
			return 0, errno
		}
		util.Writen(indBuf.Data[:], 4, off, blockno)
		ip.fsys.log.LogWrite(hart, indBuf)
		target = blockno
	}
	ip.fsys.cache.Brelse(hart, pid, indBuf)
	return target, 0
}

// itrunc frees all of ip's data blocks and resets its size to 0,
// called both by unlink-on-last-close and by O_TRUNC opens.
func (ip *Inode_t) itrunc(hart int32, pid int) {
	for i := 0; i < limits.NDIRECT; i++ {
		if ip.dinode.addrs[i] != 0 {
			ip.fsys.bfree(hart, pid, ip.dinode.addrs[i])
			ip.dinode.addrs[i] = 0
		}
	}
	if ip.dinode.addrs[limits.NDIRECT] != 0 {
		indBuf, err := ip.fsys.cache.Bread(hart, pid, ip.dinode.addrs[limits.NDIRECT])
		if err == nil {
			for i := 0; i < limits.NINDIRECT; i++ {
				target := util.Readn(indBuf.Data[:], 4, i*4)
				if target != 0 {
					ip.fsys.bfree(hart, pid, target)
				}
			}
			ip.fsys.cache.Brelse(hart, pid, indBuf)
		}
		ip.fsys.bfree(hart, pid, ip.dinode.addrs[limits.NDIRECT])
		ip.dinode.addrs[limits.NDIRECT] = 0
	}
	ip.dinode.size = 0
	ip.Iupdate(hart, pid)
}

// Readi reads up to len(dst) bytes starting at offset off into dst,
// returning the number of bytes actually read.
func (ip *Inode_t) Readi(hart int32, pid int, dst []byte, off int) (int, defs.Err_t) {
	if off < 0 || int64(off) > ip.dinode.size {
		return 0, -defs.EINVAL
	}
	n := len(dst)
	if int64(off+n) > ip.dinode.size {
		n = int(ip.dinode.size) - off
	}
	got := 0
	for got < n {
		blockno, errno := ip.bmap(hart, pid, off/limits.BSIZE)
		if errno != 0 {
			return got, errno
		}
		buf, err := ip.fsys.cache.Bread(hart, pid, blockno)
		if err != nil {
			return got, -defs.EIO
		}
		blockOff := off % limits.BSIZE
		cnt := limits.BSIZE - blockOff
		if rem := n - got; cnt > rem {
			cnt = rem
		}
		copy(dst[got:got+cnt], buf.Data[blockOff:blockOff+cnt])
		ip.fsys.cache.Brelse(hart, pid, buf)
		got += cnt
		off += cnt
	}
	return got, 0
}

// Writei writes src to ip starting at offset off, growing the file
// (and its indirect block, if needed) as far as limits.MAXFILE
// blocks. Every touched block and the inode itself join the caller's
// already-open log transaction.
func (ip *Inode_t) Writei(hart int32, pid int, src []byte, off int) (int, defs.Err_t) {
	if off < 0 {
		return 0, -defs.EINVAL
	}
	if off+len(src) > limits.MAXFILE*limits.BSIZE {
		return 0, -defs.EFBIG
	}
	put := 0
	for put < len(src) {
		blockno, errno := ip.bmap(hart, pid, off/limits.BSIZE)
		if errno != 0 {
			return put, errno
		}
		buf, err := ip.fsys.cache.Bread(hart, pid, blockno)
		if err != nil {
			return put, -defs.EIO
		}
		blockOff := off % limits.BSIZE
		cnt := limits.BSIZE - blockOff
		if rem := len(src) - put; cnt > rem {
			cnt = rem
		}
		copy(buf.Data[blockOff:blockOff+cnt], src[put:put+cnt])
		ip.fsys.log.LogWrite(hart, buf)
		ip.fsys.cache.Brelse(hart, pid, buf)
		put += cnt
		off += cnt
	}
	if int64(off) > ip.dinode.size {
		ip.dinode.size = int64(off)
	}
	if errno := ip.Iupdate(hart, pid); errno != 0 {
		return put, errno
	}
	return put, 0
}

// Stat fills st with ip's metadata, matching the teacher's
// Stat_t field set.
func (ip *Inode_t) Stat(st *stat.Stat_t) {
	st.Wdev(0)
	st.Wino(uint(ip.Inum))
	st.Wmode(uint(ip.dinode.typ))
	st.Wnlink(uint(ip.dinode.nlink))
	st.Wsize(uint(ip.dinode.size))
	if ip.dinode.typ == defs.T_DEV {
		st.Wrdev(defs.Mkdev(ip.dinode.major, ip.dinode.minor))
	} else {
		st.Wrdev(0)
	}
}

// FS returns the filesystem ip belongs to, so callers that only hold
// an *Inode_t (internal/file's inode-backed Write path) can still
// bracket a log transaction around it.
func (ip *Inode_t) FS() *FS { return ip.fsys }

// Type reports the inode's on-disk file type (T_FILE, T_DIR, T_DEV).
func (ip *Inode_t) Type() int { return ip.dinode.typ }

// DevNums reports the major/minor pair stored in a T_DEV inode.
func (ip *Inode_t) DevNums() (int, int) { return ip.dinode.major, ip.dinode.minor }

// Size reports the inode's current byte length.
func (ip *Inode_t) Size() int64 { return ip.dinode.size }

// Nlink reports the inode's current link count.
func (ip *Inode_t) Nlink() int { return ip.dinode.nlink }

// Truncate frees ip's data blocks and resets its size to 0, the
// O_TRUNC open(2) path (spec.md §4.K). The caller must already hold
// ip's sleeplock and an open log transaction.
func (ip *Inode_t) Truncate(hart int32, pid int) {
	ip.itrunc(hart, pid)
}
