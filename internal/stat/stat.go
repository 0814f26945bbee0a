// Package stat defines the fixed-layout record returned by fstat,
// mirroring the teacher's stat package field-for-field.
package stat

import "unsafe"

// Stat_t mirrors a file's stat information. Field order is fixed
// because Bytes() exposes the raw in-memory layout for copyout.
type Stat_t struct {
	dev    uint
	ino    uint
	mode   uint
	nlink  uint
	size   uint
	rdev   uint
}

// Wdev stores the device id.
func (st *Stat_t) Wdev(v uint) { st.dev = v }

// Wino stores the inode number.
func (st *Stat_t) Wino(v uint) { st.ino = v }

// Wmode stores the file type/mode.
func (st *Stat_t) Wmode(v uint) { st.mode = v }

// Wnlink stores the link count.
func (st *Stat_t) Wnlink(v uint) { st.nlink = v }

// Wsize stores the file size in bytes.
func (st *Stat_t) Wsize(v uint) { st.size = v }

// Wrdev stores the device's own major/minor pair, for device files.
func (st *Stat_t) Wrdev(v uint) { st.rdev = v }

// Ino returns the stored inode number.
func (st *Stat_t) Ino() uint { return st.ino }

// Mode returns the stored mode.
func (st *Stat_t) Mode() uint { return st.mode }

// Size returns the stored size.
func (st *Stat_t) Size() uint { return st.size }

// Rdev returns the stored rdev.
func (st *Stat_t) Rdev() uint { return st.rdev }

// Bytes exposes the raw bytes of the structure for copyout to user
// memory, matching the teacher's Bytes().
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(Stat_t{})
	sl := (*[sz]uint8)(unsafe.Pointer(st))
	return sl[:]
}
