package notify

import "github.com/sirupsen/logrus"

// backend is the contract every platform implementation satisfies. It's
// unexported: callers interact with the five concrete implementations only
// through WatcherFacade, which owns a backend's entire lifetime.
type backend interface {
	// configure applies the resolved options, returning whether this
	// backend recognized them. Called once at construction and again on
	// every WatcherFacade.Configure.
	configure(options) bool

	// watch begins observing path in the given mode. Idempotent for an
	// identical (path, mode) pair already being watched.
	watch(path string, mode RecursiveMode) error

	// unwatch stops observing path. Returns an ErrWatchNotFound *Error if
	// path isn't currently watched.
	unwatch(path string) error

	// kind identifies the backend.
	kind() WatcherKind

	// close releases all native handles and joins the dispatch thread(s).
	// Idempotent.
	close() error
}

// newBackendFunc constructs a backend wired to sink, using the resolved
// options. Each platform file registers one (or more) of these; see
// default_*.go for which is picked by NewWatcher.
type newBackendFunc func(sink EventSink, opts options, log *logrus.Entry) (backend, error)

// WatcherFacade is the single public entry point: a platform-selected
// constructor returns the OS-recommended backend, and this type exposes
// the uniform watch/unwatch/configure operation set while owning the
// backend's entire lifetime.
type WatcherFacade struct {
	b    backend
	sink EventSink
	opts options
}

func newFacade(newB newBackendFunc, sink EventSink, opt ...Option) (*WatcherFacade, error) {
	o := defaultOptions()
	for _, f := range opt {
		f(&o)
	}
	b, err := newB(sink, o, o.logger)
	if err != nil {
		return nil, err
	}
	b.configure(o)
	return &WatcherFacade{b: b, sink: sink, opts: o}, nil
}

// NewWatcher constructs the OS-recommended backend: inotify on Linux,
// FSEvents on macOS, kqueue on the other BSDs, ReadDirectoryChangesW on
// Windows, and the polling backend anywhere else.
func NewWatcher(sink EventSink, opt ...Option) (*WatcherFacade, error) {
	return newFacade(defaultBackend, sink, opt...)
}

// NewPollWatcher explicitly constructs the polling backend, regardless of
// platform -- useful for network filesystems the native backends can't see
// changes on, or for determinism in tests.
func NewPollWatcher(sink EventSink, opt ...Option) (*WatcherFacade, error) {
	return newFacade(newPollBackend, sink, opt...)
}

// Watch begins observing path (after canonicalizing it to an absolute,
// cleaned path) in the given recursive mode.
func (w *WatcherFacade) Watch(path string, mode RecursiveMode) error {
	abs, err := canonicalize(path)
	if err != nil {
		return errIo(err, path)
	}
	if err := w.b.watch(abs, mode); err != nil {
		return err
	}
	if w.opts.gauge != nil {
		w.opts.gauge.IncWatched()
	}
	return nil
}

// Unwatch stops observing path. Returns an ErrWatchNotFound *Error if path
// isn't currently watched by this facade.
func (w *WatcherFacade) Unwatch(path string) error {
	abs, err := canonicalize(path)
	if err != nil {
		return errIo(err, path)
	}
	if err := w.b.unwatch(abs); err != nil {
		return err
	}
	if w.opts.gauge != nil {
		w.opts.gauge.DecWatched()
	}
	return nil
}

// Configure forwards options to the backend. Options not recognized by the
// active backend are silently ignored, by design.
func (w *WatcherFacade) Configure(opt ...Option) {
	for _, f := range opt {
		f(&w.opts)
	}
	w.b.configure(w.opts)
}

// Kind identifies which backend this facade is driving.
func (w *WatcherFacade) Kind() WatcherKind { return w.b.kind() }

// Close releases all native handles and joins the backend's dispatch
// thread(s). An in-flight event batch already handed to the sink is not
// retracted.
func (w *WatcherFacade) Close() error { return w.b.close() }
