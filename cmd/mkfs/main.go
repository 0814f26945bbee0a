// Command mkfs builds a bootable filesystem image offline from a host
// directory tree, the same two-phase job the teacher's mkfs.go does
// through ufs.MkDisk/ufs.BootFS: lay out the static on-disk structures
// first (no log exists yet to protect them), then walk a seed
// directory populating inodes, directory entries and data blocks.
//
// Unlike the teacher, which concatenates a bootloader and kernel
// image ahead of the filesystem region (this hosted kernel has no
// bare-metal boot stage to embed), mkfs here writes only the
// filesystem region itself.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rvkern/rvkern/internal/blockdev"
	"github.com/rvkern/rvkern/internal/defs"
	"github.com/rvkern/rvkern/internal/fs"
	"github.com/rvkern/rvkern/internal/limits"
	"github.com/rvkern/rvkern/internal/ustr"
)

// Region sizes mirror the teacher's mkfs.go constants (nlogblks,
// ninodeblks, ndatablks); they're flags here rather than consts so a
// skeleton too big for the defaults doesn't require a recompile.
const (
	defaultLogBlks   = 1024
	defaultInodeBlks = 100 * 50
	defaultDataBlks  = 40000
)

const mkfsHart = int32(0)
const mkfsPid = 1

func main() {
	logBlks := flag.Int("logblks", defaultLogBlks, "number of log blocks")
	inodeBlks := flag.Int("inodeblks", defaultInodeBlks, "number of inode blocks")
	dataBlks := flag.Int("datablks", defaultDataBlks, "number of data blocks")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: mkfs [flags] <output image> <skel dir>\n")
		flag.PrintDefaults()
		os.Exit(1)
	}
	image := flag.Arg(0)
	skeldir := flag.Arg(1)

	nblocks := planNBlocks(*logBlks, *inodeBlks, *dataBlks)
	dev, err := blockdev.OpenFile(image, nblocks)
	if err != nil {
		log.Fatalf("mkfs: %v", err)
	}
	defer dev.Close()

	if errno := fs.Format(dev, *logBlks, *inodeBlks, *dataBlks); errno != 0 {
		log.Fatalf("mkfs: format: %d", errno)
	}

	fsys, errno := fs.Mount(mkfsHart, mkfsPid, dev)
	if errno != 0 {
		log.Fatalf("mkfs: mount: %d", errno)
	}

	root := fsys.Root(mkfsHart)
	if errno := root.Ilock(mkfsHart, mkfsPid); errno != 0 {
		log.Fatalf("mkfs: not a valid fs: no root inode\n")
	}
	if root.Type() != defs.T_DIR {
		log.Fatalf("mkfs: not a valid fs: root inode is not a directory\n")
	}
	root.Iunlock(mkfsPid)

	if errno := mkconsole(fsys, root); errno != 0 {
		log.Fatalf("mkfs: mknod /console: %d", errno)
	}
	root.Iput(mkfsHart, mkfsPid)

	if err := addfiles(fsys, skeldir); err != nil {
		log.Fatalf("mkfs: %v", err)
	}

	if err := dev.Flush(); err != nil {
		log.Fatalf("mkfs: flush: %v", err)
	}
}

// planNBlocks mirrors fs.planLayout's arithmetic (unexported there)
// so the image file is sized to hold every region Format will lay
// out: boot block, superblock, log, inodes, free bitmap, data.
func planNBlocks(logBlks, inodeBlks, dataBlks int) int {
	const bitsPerBlock = limits.BSIZE * 8
	freeblocklen := (dataBlks + bitsPerBlock - 1) / bitsPerBlock
	return 2 + logBlks + inodeBlks + freeblocklen + dataBlks
}

// mkconsole creates the /console device node (major D_CONSOLE), the
// way a real mkfs would lay
// down the handful of device inodes userspace expects to already
// exist rather than have init mknod(2) them at runtime.
func mkconsole(fsys *fs.FS, root *fs.Inode_t) defs.Err_t {
	ip, errno := fsys.CreateDev(mkfsHart, mkfsPid, root, root, ustr.Ustr("console"), defs.D_CONSOLE, 0)
	if errno != 0 {
		return errno
	}
	ip.Iunlock(mkfsPid)
	ip.Iput(mkfsHart, mkfsPid)
	return 0
}

// addfiles walks skeldir on the host and replicates its contents into
// fsys, the same shape as the teacher's addfiles/copydata pair.
func addfiles(fsys *fs.FS, skeldir string) error {
	root := fsys.Root(mkfsHart)
	defer root.Iput(mkfsHart, mkfsPid)

	return filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %q: %w", path, err)
		}
		rel := strings.TrimPrefix(path, skeldir)
		rel = strings.TrimPrefix(rel, string(os.PathSeparator))
		if rel == "" {
			return nil
		}
		dst := ustr.MkUstrRoot().ExtendStr(filepath.ToSlash(rel))

		if d.IsDir() {
			if _, errno := fsys.Create(mkfsHart, mkfsPid, root, root, dst, defs.T_DIR); errno != 0 {
				return fmt.Errorf("mkdir %v: %d", rel, errno)
			}
			return nil
		}
		return copyfile(fsys, root, dst, path)
	})
}

// copyfile creates dst in fsys and streams src's contents into it
// BSIZE bytes at a time, each chunk its own log transaction, matching
// the teacher's copydata appending one buffer's worth per Fs_open.
func copyfile(fsys *fs.FS, root *fs.Inode_t, dst ustr.Ustr, src string) error {
	ip, errno := fsys.Create(mkfsHart, mkfsPid, root, root, dst, defs.T_FILE)
	if errno != 0 {
		return fmt.Errorf("create %v: %d", dst, errno)
	}
	ip.Iunlock(mkfsPid)
	defer ip.Iput(mkfsHart, mkfsPid)

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %v: %w", src, err)
	}
	defer f.Close()

	buf := make([]byte, limits.BSIZE)
	off := 0
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			fsys.LogBegin(mkfsHart)
			if errno := ip.Ilock(mkfsHart, mkfsPid); errno != 0 {
				fsys.LogEnd(mkfsHart, mkfsPid)
				return fmt.Errorf("ilock %v: %d", dst, errno)
			}
			wrote, errno := ip.Writei(mkfsHart, mkfsPid, buf[:n], off)
			ip.Iunlock(mkfsPid)
			fsys.LogEnd(mkfsHart, mkfsPid)
			if errno != 0 {
				return fmt.Errorf("write %v: %d", dst, errno)
			}
			off += wrote
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read %v: %w", src, readErr)
		}
	}
}
