// Package caller dumps goroutine call stacks for kernel diagnostics,
// grounded on the teacher's caller package.
package caller

import (
	"fmt"
	"runtime"
)

// Dump prints the call stack starting at the given skip depth.
func Dump(skip int) string {
	s := ""
	for i := skip; ; i++ {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}
