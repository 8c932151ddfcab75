package notify

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watchkit/notify/internal"
)

// options is the resolved configuration every backend sees through
// configure(). Unlike the reference implementation's single WithBufferSize
// knob, this generalizes to the full option set: every field here is
// something a Backend.configure implementation may recognize or ignore.
type options struct {
	bufferSize         uint          // windows
	pollInterval       time.Duration // poll
	fileHashing        bool          // poll
	contentIndependent bool          // fsevents
	followSymlinks     bool          // all
	logger             *logrus.Entry
	gauge              WatchGauge
}

// WatchGauge receives watch-count notifications from a WatcherFacade. A
// *metrics.Sink satisfies this without notify importing the metrics
// package, since metrics.Sink already wraps an EventSink and needs to
// know when the facade's watched-path count changes.
type WatchGauge interface {
	IncWatched()
	DecWatched()
}

func defaultOptions() options {
	return options{
		bufferSize:   64 * 1024,
		pollInterval: 30 * time.Second,
		logger:       internal.NewDiscardLogger(),
	}
}

// Option configures a WatcherFacade or a standalone Backend at construction
// time. Unknown options are not an error here: all options are applied to
// one resolved options value, Backend.configure reports whether it
// recognized that value, and WatcherFacade does not use that result.
type Option func(*options)

// WithBufferSize sets the Windows backend's overlapped-I/O buffer size.
// No-op on other backends.
func WithBufferSize(n uint) Option {
	return func(o *options) { o.bufferSize = n }
}

// WithPollInterval sets the poll backend's tick period. No-op elsewhere.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithFileHashing enables content hashing in the poll backend so Modify is
// only reported when a file's content actually changed, at the cost of
// reading file contents every tick. No-op elsewhere.
func WithFileHashing(on bool) Option {
	return func(o *options) { o.fileHashing = on }
}

// WithContentIndependentEvents makes the FSEvents backend drop the Modify
// events it derives from content, inode-metadata and xattr changes, so only
// Create/Remove/rename events are reported. No-op elsewhere.
func WithContentIndependentEvents(on bool) Option {
	return func(o *options) { o.contentIndependent = on }
}

// WithFollowSymlinks controls whether recursive walks traverse symlinks.
// Default is false to avoid cycles. Only the kqueue backend acts on it; the
// inotify and poll backends' walks never traverse symlinks.
func WithFollowSymlinks(on bool) Option {
	return func(o *options) { o.followSymlinks = on }
}

// WithLogger attaches a structured logger. The default is a discard
// logger, so the library stays silent unless a caller opts in.
func WithLogger(l *logrus.Entry) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics wires a *metrics.Sink's watched-path gauge into the facade,
// so it's incremented/decremented on every successful Watch/Unwatch. The
// caller is still responsible for passing the same *metrics.Sink (wrapping
// their real EventSink) as the sink argument to NewWatcher -- this option
// only connects the gauge half of the instrumentation.
func WithMetrics(g WatchGauge) Option {
	return func(o *options) { o.gauge = g }
}
