//go:build windows

package fileid

import (
	"golang.org/x/sys/windows"
)

// FromPath resolves path's identity from its volume serial number and file
// index, the Windows analogue of a POSIX device/inode pair: the volume
// serial number plus the 64-bit file index.
func FromPath(path string) (ID, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return Zero, err
	}
	h, err := windows.CreateFile(p,
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0)
	if err != nil {
		return Zero, err
	}
	defer windows.CloseHandle(h)

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &info); err != nil {
		return Zero, err
	}

	file := uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow)
	return ID{Device: uint64(info.VolumeSerialNumber), File: file}, nil
}

// FromLstatPath is identical to FromPath on Windows: reparse points are
// opened without FILE_FLAG_OPEN_REPARSE_POINT, so both resolve through a
// symlink the same way. It exists to keep callers platform-agnostic.
func FromLstatPath(path string) (ID, error) { return FromPath(path) }
