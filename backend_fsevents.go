//go:build darwin

// Package notify: macOS backend built on the FSEvents API via
// github.com/eXotech-code/fsevents, the default on Darwin (kqueue remains
// available as an explicit alternative, see default_bsd.go / the kqueue
// backend's own build tag). Grounded on the eXotech-code-fsnotify fork's
// backend_fsevents.go, which is itself a pack sibling of the reference
// implementation retargeted from kqueue to this library: one shared
// EventStream carrying every watched root, translated from FSEvents'
// Item*/coalesced-per-path flags into the taxonomy in event.go.
package notify

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/eXotech-code/fsevents"
	"github.com/sirupsen/logrus"
)

// fseventsLatency is how long the kernel coalesces changes to the same
// path before delivering a batch; fsevents.Event carries no cookie to pair
// a rename's two halves the way inotify's does, so we additionally use
// this as the pairing window for the FileId-less heuristic in
// flushRenames: backends that cannot correlate a rename through a kernel
// cookie fall back to pairing within a small temporal window.
const fseventsLatency = 200 * time.Millisecond

type fsEventsBackend struct {
	sink EventSink
	log  *logrus.Entry

	mu      sync.Mutex
	opts    options
	stream  *fsevents.EventStream
	started bool
	watches map[string]RecursiveMode

	pendingAway []pendingRename
	pendingInto []pendingRename

	done     chan struct{}
	doneResp chan struct{}
	closeOne sync.Once
}

type pendingRename struct {
	path string
	at   time.Time
}

func newFSEventsBackend(sink EventSink, opts options, log *logrus.Entry) (backend, error) {
	b := &fsEventsBackend{
		sink: sink,
		log:  log,
		opts: opts,
		stream: &fsevents.EventStream{
			Paths:   make([]string, 0),
			Latency: fseventsLatency,
			Device:  -1,
			Flags:   fsevents.FileEvents | fsevents.WatchRoot,
		},
		watches:  make(map[string]RecursiveMode),
		done:     make(chan struct{}),
		doneResp: make(chan struct{}),
	}
	go b.loop()
	return b, nil
}

func (b *fsEventsBackend) kind() WatcherKind { return KindFSEvents }

func (b *fsEventsBackend) configure(o options) bool {
	b.mu.Lock()
	b.opts = o
	b.mu.Unlock()
	return true
}

func (b *fsEventsBackend) watch(path string, mode RecursiveMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.watches[path]; ok {
		b.watches[path] = mode
		return nil
	}

	if !b.started {
		dev, err := deviceID(path)
		if err != nil {
			if os.IsNotExist(err) {
				return errPathNotFound(path)
			}
			return errIo(err, path)
		}
		b.stream.Device = dev
	}

	b.watches[path] = mode
	b.stream.Paths = append(b.stream.Paths, path)
	if !b.started {
		b.stream.Start()
		b.started = true
	} else {
		b.stream.Restart()
	}
	return nil
}

func (b *fsEventsBackend) unwatch(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.watches[path]; !ok {
		return errWatchNotFound(path)
	}
	delete(b.watches, path)

	paths := b.stream.Paths[:0]
	for _, p := range b.stream.Paths {
		if p != path {
			paths = append(paths, p)
		}
	}
	b.stream.Paths = paths
	if len(paths) > 0 {
		b.stream.Restart()
	} else {
		b.stream.Stop()
		b.started = false
	}
	return nil
}

func (b *fsEventsBackend) close() error {
	b.closeOne.Do(func() {
		b.mu.Lock()
		if b.started {
			b.stream.Stop()
		}
		b.mu.Unlock()
		close(b.done)
	})
	<-b.doneResp
	return nil
}

// isDirHint reports whether path currently names a directory. FSEvents'
// flag set doesn't distinguish file from directory the way inotify's
// IN_ISDIR bit does, so a removed path always reports false here and ends
// up classified as SubRemoveFile/SubRemoveOther; Sub is best-effort, not
// guaranteed, for backends with coarser kernel signals.
func isDirHint(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func deviceID(path string) (int32, error) {
	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		return -1, err
	}
	return st.Dev, nil
}

func (b *fsEventsBackend) loop() {
	defer close(b.doneResp)

	ticker := time.NewTicker(fseventsLatency)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return

		case batch, ok := <-b.stream.Events:
			if !ok {
				return
			}
			for _, raw := range batch {
				b.handleRaw(raw)
			}
			b.flushRenames(false)

		case <-ticker.C:
			b.flushRenames(true)
		}
	}
}

// rootFor returns the narrowest watched root containing path, and whether
// that watch is recursive -- used to decide whether a nested event should
// be filtered out for a non-recursive watch.
func (b *fsEventsBackend) rootFor(path string) (string, RecursiveMode, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	best := ""
	var mode RecursiveMode
	for root, m := range b.watches {
		if !hasPathPrefix(path, root) {
			continue
		}
		if len(root) > len(best) {
			best, mode = root, m
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, mode, true
}

// contentIndependent reports whether WithContentIndependentEvents(true)
// is set, suppressing Modify events derived from file content/metadata
// changes so only structural events (Create/Remove/Rename) are reported.
func (b *fsEventsBackend) contentIndependent() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts.contentIndependent
}

func (b *fsEventsBackend) handleRaw(raw fsevents.Event) {
	root, mode, ok := b.rootFor(raw.Path)
	if !ok {
		return
	}
	if mode == NonRecursive && filepath.Dir(raw.Path) != root && raw.Path != root {
		return
	}

	isDir := isDirHint(raw.Path)
	f := raw.Flags

	switch {
	case f&fsevents.ItemRenamed != 0:
		b.classifyRename(raw.Path)

	case f&fsevents.ItemCreated != 0 && f&fsevents.ItemRemoved != 0:
		// FSEvents coalesces flags per path within its latency window; a
		// path that was both created and removed before the coalesced
		// event was delivered surfaces as two synthetic events, created
		// before removed, rather than silently dropping one side.
		b.sink.Send(Event{Kind: KindCreate, Sub: subForCreateKq(isDir), Paths: []string{raw.Path}})
		b.sink.Send(Event{Kind: KindRemove, Sub: subForRemoveKq(isDir), Paths: []string{raw.Path}})

	case f&fsevents.ItemCreated != 0:
		b.sink.Send(Event{Kind: KindCreate, Sub: subForCreateKq(isDir), Paths: []string{raw.Path}})

	case f&fsevents.ItemRemoved != 0:
		b.sink.Send(Event{Kind: KindRemove, Sub: subForRemoveKq(isDir), Paths: []string{raw.Path}})

	case f&fsevents.ItemModified != 0:
		if !b.contentIndependent() {
			b.sink.Send(Event{Kind: KindModify, Sub: SubModifyDataContent, Paths: []string{raw.Path}})
		}

	case f&fsevents.ItemInodeMetaMod != 0 || f&fsevents.ItemXattrMod != 0:
		if !b.contentIndependent() {
			b.sink.Send(Event{Kind: KindModify, Sub: SubModifyMetaAny, Paths: []string{raw.Path}})
		}
	}
}

// classifyRename buckets an ItemRenamed path as the vacated ("away") or
// occupied ("into") side by checking whether it still exists, then hands
// off to flushRenames to pair it against the opposite bucket.
func (b *fsEventsBackend) classifyRename(path string) {
	b.mu.Lock()
	now := time.Now()
	if exists(path) {
		b.pendingInto = append(b.pendingInto, pendingRename{path: path, at: now})
	} else {
		b.pendingAway = append(b.pendingAway, pendingRename{path: path, at: now})
	}
	b.mu.Unlock()
	b.flushRenames(false)
}

// flushRenames pairs pending renamed-away/renamed-into paths in arrival
// order and emits a two-sided rename for each pair; force additionally
// expires any side that's waited past fseventsLatency into a plain
// Remove/Create, matching inotify's cookie-expiry fallback.
func (b *fsEventsBackend) flushRenames(force bool) {
	b.mu.Lock()
	var pairs [][2]string
	for len(b.pendingAway) > 0 && len(b.pendingInto) > 0 {
		away := b.pendingAway[0]
		into := b.pendingInto[0]
		b.pendingAway = b.pendingAway[1:]
		b.pendingInto = b.pendingInto[1:]
		pairs = append(pairs, [2]string{away.path, into.path})
	}

	var expiredAway, expiredInto []string
	if force {
		now := time.Now()
		remainAway := b.pendingAway[:0]
		for _, p := range b.pendingAway {
			if now.Sub(p.at) >= fseventsLatency {
				expiredAway = append(expiredAway, p.path)
			} else {
				remainAway = append(remainAway, p)
			}
		}
		b.pendingAway = remainAway

		remainInto := b.pendingInto[:0]
		for _, p := range b.pendingInto {
			if now.Sub(p.at) >= fseventsLatency {
				expiredInto = append(expiredInto, p.path)
			} else {
				remainInto = append(remainInto, p)
			}
		}
		b.pendingInto = remainInto
	}
	b.mu.Unlock()

	for _, pair := range pairs {
		b.sink.Send(Event{Kind: KindModify, Sub: SubModifyNameBoth, Paths: []string{pair[0], pair[1]}})
	}
	for _, path := range expiredAway {
		b.sink.Send(Event{Kind: KindRemove, Sub: SubRemoveOther, Paths: []string{path}})
	}
	for _, path := range expiredInto {
		b.sink.Send(Event{Kind: KindCreate, Sub: SubCreateOther, Paths: []string{path}})
	}
}
