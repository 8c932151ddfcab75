// Package fileid gives every watched filesystem node a stable identity that
// survives a rename, independent of the path string the backend happens to
// observe it at. Backends that can't correlate a rename through a kernel
// cookie (kqueue, FSEvents, polling) fall back to comparing FileIds of the
// old and new path to decide whether a Remove+Create pair is really one
// rename.
package fileid

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/syndtr/gocapability/capability"
)

// ID is an opaque, platform-specific identity for a filesystem node. Two
// IDs compare equal if and only if they name the same underlying file, for
// as long as that file exists; a deleted-and-recreated path usually gets a
// new ID, but the filesystem may reuse the old inode number.
type ID struct {
	// Device identifies the volume or filesystem the node lives on (a
	// POSIX st_dev, or a Windows volume serial number).
	Device uint64
	// File identifies the node within Device (a POSIX st_ino, or a
	// Windows file index assembled from FileIndexHigh/FileIndexLow).
	File uint64
}

// Zero is the identity no real file ever has; callers use it as a
// "not yet resolved" sentinel rather than a pointer.
var Zero ID

// String renders an ID for logging; the format isn't stable across
// platforms and shouldn't be parsed.
func (id ID) String() string {
	return fmt.Sprintf("%x:%x", id.Device, id.File)
}

// IsZero reports whether id is the unresolved sentinel.
func (id ID) IsZero() bool { return id == Zero }

// logCapabilityHint logs at debug level, each time it is called, whether
// the caller is running with the raw capabilities that let it stat paths it
// doesn't otherwise have directory-traversal rights to (for example
// CAP_DAC_READ_SEARCH on Linux). FromPath returns Zero and the stat error
// when a stat is denied, so this is purely diagnostic -- it doesn't affect
// behavior.
func logCapabilityHint(log *logrus.Entry) {
	if log == nil {
		return
	}
	caps, err := capability.NewPid2(0)
	if err != nil {
		log.WithError(err).Debug("fileid: capability introspection unavailable")
		return
	}
	if err := caps.Load(); err != nil {
		log.WithError(err).Debug("fileid: capability load failed")
		return
	}
	log.WithField("dac_read_search", caps.Get(capability.EFFECTIVE, capability.CAP_DAC_READ_SEARCH)).
		Debug("fileid: resolved process capabilities")
}

// LogCapabilityHint is the exported entry point used once by a backend at
// startup; wrapping the unexported helper keeps the capability import
// confined to this file.
func LogCapabilityHint(log *logrus.Entry) { logCapabilityHint(log) }
