//go:build linux

package notify

import (
	"bytes"
	"unsafe"

	"golang.org/x/sys/unix"
)

// unsafePointer reinterprets a byte slice's backing array as a
// *unix.InotifyEvent header; callers must ensure at least
// unix.SizeofInotifyEvent bytes remain.
func unsafePointer(p *byte) unsafe.Pointer { return unsafe.Pointer(p) }

// cString trims the trailing NUL padding inotify uses to align the
// variable-length name field.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
