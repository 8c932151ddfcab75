package internal

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

var winActionNames = []struct {
	n string
	m uint32
}{
	{"FILE_ACTION_ADDED", windows.FILE_ACTION_ADDED},
	{"FILE_ACTION_REMOVED", windows.FILE_ACTION_REMOVED},
	{"FILE_ACTION_MODIFIED", windows.FILE_ACTION_MODIFIED},
	{"FILE_ACTION_RENAMED_OLD_NAME", windows.FILE_ACTION_RENAMED_OLD_NAME},
	{"FILE_ACTION_RENAMED_NEW_NAME", windows.FILE_ACTION_RENAMED_NEW_NAME},
}

// Debug logs a decoded FILE_ACTION_* code at debug level, tagged with the
// name ReadDirectoryChangesW reported it against. A no-op when log is nil
// or debug level isn't enabled.
func Debug(log *logrus.Entry, name string, mask uint32) {
	if log == nil || !log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	var (
		l       []string
		unknown = mask
	)
	for _, n := range winActionNames {
		if mask == n.m {
			l = append(l, n.n)
			unknown ^= n.m
		}
	}
	if unknown > 0 {
		l = append(l, fmt.Sprintf("0x%x", unknown))
	}
	log.WithField("name", name).Debugf("action %d: %s", mask, strings.Join(l, "|"))
}
