package internal

import (
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var inotifyMaskNames = []struct {
	n string
	m uint32
}{
	{"IN_ACCESS", unix.IN_ACCESS},
	{"IN_ATTRIB", unix.IN_ATTRIB},
	{"IN_CLOSE_NOWRITE", unix.IN_CLOSE_NOWRITE},
	{"IN_CLOSE_WRITE", unix.IN_CLOSE_WRITE},
	{"IN_CREATE", unix.IN_CREATE},
	{"IN_DELETE", unix.IN_DELETE},
	{"IN_DELETE_SELF", unix.IN_DELETE_SELF},
	{"IN_IGNORED", unix.IN_IGNORED},
	{"IN_ISDIR", unix.IN_ISDIR},
	{"IN_MODIFY", unix.IN_MODIFY},
	{"IN_MOVED_FROM", unix.IN_MOVED_FROM},
	{"IN_MOVED_TO", unix.IN_MOVED_TO},
	{"IN_MOVE_SELF", unix.IN_MOVE_SELF},
	{"IN_Q_OVERFLOW", unix.IN_Q_OVERFLOW},
	{"IN_UNMOUNT", unix.IN_UNMOUNT},
}

// Debug logs the set bits of a raw inotify mask at debug level, decoded
// into their IN_* names, tagged with the name the kernel reported the
// event against. A no-op when log is nil or debug level isn't enabled.
func Debug(log *logrus.Entry, name string, mask uint32) {
	if log == nil || !log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	var l []string
	for _, n := range inotifyMaskNames {
		if mask&n.m == n.m {
			l = append(l, n.n)
		}
	}
	log.WithField("name", name).Debugf("inotify mask 0x%x: %s", mask, strings.Join(l, "|"))
}
