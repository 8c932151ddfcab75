package notify

import (
	"github.com/sirupsen/logrus"
	"github.com/watchkit/notify/internal"
)

// discardEntry is the logger every backend-level test wires in, shared
// across the per-platform *_test.go files that each only compile on their
// own build-tagged platform.
func discardEntry() *logrus.Entry { return internal.NewDiscardLogger() }
