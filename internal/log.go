package internal

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NewDiscardLogger returns a logger that drops everything, used as the
// default when a caller doesn't supply one via notify.WithLogger. This
// mirrors the reference implementation's FSNOTIFY_DEBUG-gated
// fmt.Fprintf(os.Stderr, ...) calls, but as a structured logger that a
// caller can redirect or leave silent.
func NewDiscardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
