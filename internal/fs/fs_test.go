package fs

import (
	"bytes"
	"testing"

	"github.com/rvkern/rvkern/internal/blockdev"
	"github.com/rvkern/rvkern/internal/defs"
	"github.com/rvkern/rvkern/internal/limits"
	"github.com/rvkern/rvkern/internal/ustr"
)

const testHart = int32(0)
const testPid = 1

func newTestFS(t *testing.T) *FS {
	t.Helper()
	dev := blockdev.NewMemDevice(2 + 8 + 32 + 4 + 200)
	if errno := Format(dev, 8, 32, 200); errno != 0 {
		t.Fatalf("Format: %d", errno)
	}
	fsys, errno := Mount(testHart, testPid, dev)
	if errno != 0 {
		t.Fatalf("Mount: %d", errno)
	}
	return fsys
}

func TestMountFindsRootDir(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root(testHart)
	if errno := root.Ilock(testHart, testPid); errno != 0 {
		t.Fatalf("Ilock root: %d", errno)
	}
	defer func() {
		root.Iunlock(testPid)
		root.Iput(testHart, testPid)
	}()
	if root.dinode.typ != defs.T_DIR {
		t.Fatalf("root type = %d, want T_DIR", root.dinode.typ)
	}
	if root.dinode.nlink != 2 {
		t.Fatalf("root nlink = %d, want 2", root.dinode.nlink)
	}
}

func TestCreateFileAndWriteReadRoundTrip(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root(testHart)
	defer root.Iput(testHart, testPid)

	ip, errno := fsys.Create(testHart, testPid, root, root, ustr.Ustr("hello.txt"), defs.T_FILE)
	if errno != 0 {
		t.Fatalf("Create: %d", errno)
	}
	want := []byte("hello, kernel")
	fsys.log.Begin(testHart)
	if _, errno := ip.Writei(testHart, testPid, want, 0); errno != 0 {
		fsys.log.End(testHart, testPid)
		t.Fatalf("Writei: %d", errno)
	}
	fsys.log.End(testHart, testPid)
	ip.Iunlock(testPid)
	ip.Iput(testHart, testPid)

	ip2, errno := fsys.Namei(testHart, testPid, root, root, ustr.Ustr("hello.txt"))
	if errno != 0 {
		t.Fatalf("Namei: %d", errno)
	}
	if errno := ip2.Ilock(testHart, testPid); errno != 0 {
		t.Fatalf("Ilock: %d", errno)
	}
	got := make([]byte, len(want))
	n, errno := ip2.Readi(testHart, testPid, got, 0)
	if errno != 0 {
		t.Fatalf("Readi: %d", errno)
	}
	if n != len(want) || !bytes.Equal(got, want) {
		t.Fatalf("read back %q, want %q", got[:n], want)
	}
	ip2.Iunlock(testPid)
	ip2.Iput(testHart, testPid)
}

func TestCreateDuplicateFails(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root(testHart)
	defer root.Iput(testHart, testPid)

	ip, errno := fsys.Create(testHart, testPid, root, root, ustr.Ustr("dup"), defs.T_FILE)
	if errno != 0 {
		t.Fatalf("Create: %d", errno)
	}
	ip.Iunlock(testPid)
	ip.Iput(testHart, testPid)

	if _, errno := fsys.Create(testHart, testPid, root, root, ustr.Ustr("dup"), defs.T_DIR); errno != -defs.EEXIST {
		t.Fatalf("second Create errno = %d, want -EEXIST", errno)
	}
}

func TestMkdirAndNestedPathResolution(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root(testHart)
	defer root.Iput(testHart, testPid)

	dir, errno := fsys.Create(testHart, testPid, root, root, ustr.Ustr("sub"), defs.T_DIR)
	if errno != 0 {
		t.Fatalf("mkdir sub: %d", errno)
	}
	dir.Iunlock(testPid)
	dir.Iput(testHart, testPid)

	file, errno := fsys.Create(testHart, testPid, root, root, ustr.Ustr("sub/leaf"), defs.T_FILE)
	if errno != 0 {
		t.Fatalf("create sub/leaf: %d", errno)
	}
	file.Iunlock(testPid)
	file.Iput(testHart, testPid)

	ip, errno := fsys.Namei(testHart, testPid, root, root, ustr.Ustr("sub/leaf"))
	if errno != 0 {
		t.Fatalf("Namei sub/leaf: %d", errno)
	}
	ip.Iput(testHart, testPid)

	// "." and ".." inside sub must resolve too.
	dotdot, errno := fsys.Namei(testHart, testPid, root, root, ustr.Ustr("sub/.."))
	if errno != 0 {
		t.Fatalf("Namei sub/..: %d", errno)
	}
	if dotdot.Inum != root.Inum {
		t.Fatalf("sub/.. resolved to inode %d, want root inode %d", dotdot.Inum, root.Inum)
	}
	dotdot.Iput(testHart, testPid)
}

func TestUnlinkRemovesEntryAndFreesInode(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root(testHart)
	defer root.Iput(testHart, testPid)

	ip, errno := fsys.Create(testHart, testPid, root, root, ustr.Ustr("gone"), defs.T_FILE)
	if errno != 0 {
		t.Fatalf("Create: %d", errno)
	}
	ip.Iunlock(testPid)
	ip.Iput(testHart, testPid)

	if errno := fsys.Unlink(testHart, testPid, root, root, ustr.Ustr("gone")); errno != 0 {
		t.Fatalf("Unlink: %d", errno)
	}

	if _, errno := fsys.Namei(testHart, testPid, root, root, ustr.Ustr("gone")); errno != -defs.ENOENT {
		t.Fatalf("Namei after unlink errno = %d, want -ENOENT", errno)
	}
}

func TestUnlinkedInodeSurvivesUntilLastReference(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root(testHart)
	defer root.Iput(testHart, testPid)

	ip, errno := fsys.Create(testHart, testPid, root, root, ustr.Ustr("shared"), defs.T_FILE)
	if errno != 0 {
		t.Fatalf("Create: %d", errno)
	}
	want := []byte("still here")
	fsys.log.Begin(testHart)
	if _, errno := ip.Writei(testHart, testPid, want, 0); errno != 0 {
		fsys.log.End(testHart, testPid)
		t.Fatalf("Writei: %d", errno)
	}
	fsys.log.End(testHart, testPid)
	ip.Iunlock(testPid)

	// A second holder of the same cached inode, as a second open(2)
	// of the same path would produce.
	ip2, errno := fsys.Namei(testHart, testPid, root, root, ustr.Ustr("shared"))
	if errno != 0 {
		t.Fatalf("Namei: %d", errno)
	}
	if ip2 != ip {
		t.Fatal("expected the cache to return the same inode")
	}

	if errno := fsys.Unlink(testHart, testPid, root, root, ustr.Ustr("shared")); errno != 0 {
		t.Fatalf("Unlink: %d", errno)
	}

	// Dropping the first reference must not truncate: the second
	// holder is still reading through the same inode.
	fsys.log.Begin(testHart)
	ip.Iput(testHart, testPid)
	fsys.log.End(testHart, testPid)

	if errno := ip2.Ilock(testHart, testPid); errno != 0 {
		t.Fatalf("Ilock after first Iput: %d", errno)
	}
	got := make([]byte, len(want))
	n, errno := ip2.Readi(testHart, testPid, got, 0)
	if errno != 0 || n != len(want) || !bytes.Equal(got, want) {
		t.Fatalf("read through surviving reference = (%q, %d, %d), want %q", got[:n], n, errno, want)
	}
	ip2.Iunlock(testPid)

	// The last reference frees the inode on disk.
	fsys.log.Begin(testHart)
	ip2.Iput(testHart, testPid)
	fsys.log.End(testHart, testPid)
}

func TestRmdirRejectsNonEmptyDirectory(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root(testHart)
	defer root.Iput(testHart, testPid)

	dir, errno := fsys.Create(testHart, testPid, root, root, ustr.Ustr("full"), defs.T_DIR)
	if errno != 0 {
		t.Fatalf("mkdir: %d", errno)
	}
	dir.Iunlock(testPid)
	dir.Iput(testHart, testPid)

	f, errno := fsys.Create(testHart, testPid, root, root, ustr.Ustr("full/child"), defs.T_FILE)
	if errno != 0 {
		t.Fatalf("create child: %d", errno)
	}
	f.Iunlock(testPid)
	f.Iput(testHart, testPid)

	if errno := fsys.Unlink(testHart, testPid, root, root, ustr.Ustr("full")); errno != -defs.ENOTEMPTY {
		t.Fatalf("Unlink non-empty dir errno = %d, want -ENOTEMPTY", errno)
	}
}

func TestWriteiRejectsWritePastMaxFileSize(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root(testHart)
	defer root.Iput(testHart, testPid)

	ip, errno := fsys.Create(testHart, testPid, root, root, ustr.Ustr("edge"), defs.T_FILE)
	if errno != 0 {
		t.Fatalf("Create: %d", errno)
	}
	defer func() {
		ip.Iunlock(testPid)
		ip.Iput(testHart, testPid)
	}()

	maxBytes := limits.MAXFILE * limits.BSIZE
	fsys.log.Begin(testHart)
	_, errno = ip.Writei(testHart, testPid, []byte{0x1}, maxBytes)
	fsys.log.End(testHart, testPid)
	if errno != -defs.EFBIG {
		t.Fatalf("write one byte past max file size errno = %d, want -EFBIG", errno)
	}
}

func TestWriteiSpansIndirectBlocks(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root(testHart)
	defer root.Iput(testHart, testPid)

	ip, errno := fsys.Create(testHart, testPid, root, root, ustr.Ustr("big"), defs.T_FILE)
	if errno != 0 {
		t.Fatalf("Create: %d", errno)
	}

	// Write past the direct blocks so bmap must allocate the
	// indirect block and at least one pointer inside it.
	size := (limits.NDIRECT + 2) * limits.BSIZE
	payload := bytes.Repeat([]byte{0x5a}, size)

	fsys.log.Begin(testHart)
	n, errno := ip.Writei(testHart, testPid, payload, 0)
	fsys.log.End(testHart, testPid)
	if errno != 0 {
		t.Fatalf("Writei: %d", errno)
	}
	if n != size {
		t.Fatalf("Writei wrote %d bytes, want %d", n, size)
	}
	ip.Iunlock(testPid)
	ip.Iput(testHart, testPid)

	ip2, errno := fsys.Namei(testHart, testPid, root, root, ustr.Ustr("big"))
	if errno != 0 {
		t.Fatalf("Namei: %d", errno)
	}
	if errno := ip2.Ilock(testHart, testPid); errno != 0 {
		t.Fatalf("Ilock: %d", errno)
	}
	got := make([]byte, size)
	n2, errno := ip2.Readi(testHart, testPid, got, 0)
	if errno != 0 {
		t.Fatalf("Readi: %d", errno)
	}
	if n2 != size || !bytes.Equal(got, payload) {
		t.Fatal("indirect-block write/read round trip mismatch")
	}
	ip2.Iunlock(testPid)
	ip2.Iput(testHart, testPid)
}
