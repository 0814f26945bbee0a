// Package ustr provides the byte-slice path string the rest of the
// kernel uses instead of Go's string type, so path components can be
// sliced, extended and compared without per-call UTF-8 validation.
package ustr

// Ustr is an immutable-by-convention path or name used throughout the
// kernel's directory and path-resolution code.
type Ustr []uint8

// Isdot reports whether the string is exactly ".".
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether the string is exactly "..".
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq reports whether us and s hold identical bytes.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// MkUstr returns an empty Ustr.
func MkUstr() Ustr {
	return Ustr{}
}

// MkUstrRoot returns a Ustr for the root directory "/".
func MkUstrRoot() Ustr {
	return Ustr("/")
}

// DotDot is a reusable Ustr containing "..".
var DotDot = Ustr{'.', '.'}

// Dot is a reusable Ustr containing ".".
var Dot = Ustr{'.'}

// MkUstrSlice truncates buf at the first NUL byte, treating it as a
// NUL-terminated C string copied in from user memory.
func MkUstrSlice(buf []uint8) Ustr {
	for i, b := range buf {
		if b == 0 {
			return Ustr(buf[:i])
		}
	}
	return Ustr(buf)
}

// Extend appends '/' and p to us and returns the new path.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us))
	copy(tmp, us)
	r := append(tmp, '/')
	return append(r, p...)
}

// ExtendStr is Extend with a Go string operand.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// IsAbsolute reports whether the path begins with '/'.
func (us Ustr) IsAbsolute() bool {
	return len(us) > 0 && us[0] == '/'
}

// IndexByte returns the index of the first occurrence of b, or -1.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String converts the Ustr to a Go string, for printing and errors.
func (us Ustr) String() string {
	return string(us)
}

// Split walks the path one component at a time. It returns the first
// component, whether the path was absolute, and the remainder
// (without a leading slash). Used by namei/nameiparent.
func Split(path Ustr) (first Ustr, abs bool, rest Ustr) {
	abs = path.IsAbsolute()
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	i := path.IndexByte('/')
	if i < 0 {
		return path, abs, nil
	}
	first = path[:i]
	rest = path[i+1:]
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	return first, abs, rest
}
