//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package internal

import (
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Debug logs the set NOTE_* bits of a kevent's Fflags at debug level,
// tagged with the name the event was raised against. A no-op when log is
// nil or debug level isn't enabled.
func Debug(log *logrus.Entry, name string, kevent *unix.Kevent_t) {
	if log == nil || !log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	mask := uint32(kevent.Fflags)
	var l []string
	for _, n := range kqueueNoteNames {
		if mask&n.m == n.m {
			l = append(l, n.n)
		}
	}
	log.WithField("name", name).Debugf("kqueue fflags 0x%x: %s", mask, strings.Join(l, "|"))
}
