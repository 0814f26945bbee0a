// Package limits centralizes the fixed-size table bounds named
// throughout spec.md, mirroring the teacher's limits package pattern
// of a single struct of resource ceilings.
package limits

// Kernel-wide fixed table sizes (spec.md §3, §4).
const (
	// NPROC is the number of process table slots.
	NPROC = 64
	// NOFILE is the number of per-process open-file descriptors.
	NOFILE = 16
	// NFILE is the number of entries in the global open-file table.
	NFILE = 100
	// NBUF is the number of block-buffer cache slots.
	NBUF = 30
	// NCPU is the maximum number of supported harts.
	NCPU = 8
	// NDEV is the size of the device-op dispatch table.
	NDEV = 10
	// NDIRECT is the number of direct block pointers per inode.
	NDIRECT = 12
	// NINDIRECT is the number of pointers held in the single
	// indirect block (BSIZE / 4 bytes per pointer).
	NINDIRECT = BSIZE / 4
	// MAXFILE is the largest file size in blocks.
	MAXFILE = NDIRECT + NINDIRECT
	// BSIZE is the on-disk block size in bytes (spec.md §6).
	BSIZE = 1024
	// LOGSIZE is the number of log data slots (header not counted).
	LOGSIZE = 30
	// MAXOPBLOCKS bounds the number of distinct blocks a single
	// log transaction may write; spec.md §9 calls this "commonly 10".
	MAXOPBLOCKS = 10
	// DIRENTSZ is the size in bytes of one directory entry.
	DIRENTSZ = 16
	// DIRNAMESZ is the name field width within a directory entry.
	DIRNAMESZ = 14
	// PIPESIZE is the capacity of the in-kernel pipe ring (spec.md §3).
	PIPESIZE = 512
	// MAXARG is the most argv strings exec will unpack from user
	// memory.
	MAXARG = 16
)
