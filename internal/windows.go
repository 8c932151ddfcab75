//go:build windows
// +build windows

package internal

import (
	"errors"
)

// Windows has neither errno, so these never compare equal to a real
// error a backend could return -- they exist only so permission-denied
// checks can compare against the same symbol on every platform.
var (
	SyscallEACCES = errors.New("dummy")
	UnixEACCES    = errors.New("dummy")
)
