//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package fileid

import (
	"syscall"
)

// FromPath resolves path's identity from the POSIX device/inode pair. It
// follows symlinks (stat, not lstat) since identity is meant to
// identify the underlying node a watch targets, and a watch on a symlink
// targets what it points to.
func FromPath(path string) (ID, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return Zero, err
	}
	return ID{Device: uint64(st.Dev), File: uint64(st.Ino)}, nil
}

// FromLstatPath resolves path's identity without following a trailing
// symlink, used when a backend needs the identity of the link itself
// rather than its target (for example when diffing a directory listing
// that may contain broken symlinks).
func FromLstatPath(path string) (ID, error) {
	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		return Zero, err
	}
	return ID{Device: uint64(st.Dev), File: uint64(st.Ino)}, nil
}
