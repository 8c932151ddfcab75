// Package notify: the universal polling backend, the fallback for any
// platform without a native reactor, and the explicit choice
// NewPollWatcher always returns regardless of GOOS -- useful against
// network filesystems a kernel backend can't see changes on. Grounded on
// the reference implementation's polling.go (itself credited there to
// github.com/radovskyb/watcher): snapshot the watched tree, sleep, snapshot
// again, and diff. Generalized from a single os.SameFile rename check to
// the cross-platform fileid package so the same correlation logic the
// kqueue backend uses for its NOTE_RENAME fallback applies here too, and
// from a fixed sleep to the configurable WithPollInterval.
package notify

import (
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/watchkit/notify/fileid"
)

type pollEntry struct {
	info os.FileInfo
	id   fileid.ID
	hash [sha256.Size]byte
}

type pollBackend struct {
	sink EventSink
	log  *logrus.Entry

	mu       sync.Mutex
	opts     options
	watches  *descriptorTable
	snapshot map[string]pollEntry

	done     chan struct{}
	doneResp chan struct{}
	closeOne sync.Once
}

func newPollBackend(sink EventSink, opts options, log *logrus.Entry) (backend, error) {
	b := &pollBackend{
		sink:     sink,
		log:      log,
		opts:     opts,
		watches:  newDescriptorTable(),
		snapshot: make(map[string]pollEntry),
		done:     make(chan struct{}),
		doneResp: make(chan struct{}),
	}
	go b.loop()
	return b, nil
}

func (b *pollBackend) kind() WatcherKind { return KindPoll }

func (b *pollBackend) configure(o options) bool {
	b.mu.Lock()
	b.opts = o
	b.mu.Unlock()
	return true
}

func (b *pollBackend) watch(path string, mode RecursiveMode) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return errPathNotFound(path)
		}
		return errIo(err, path)
	}

	if _, already := b.watches.get(path); already {
		return nil
	}
	b.watches.put(&WatchDescriptor{Path: path, Recursive: mode, FollowSymlinks: b.opts.followSymlinks})

	list, err := b.list(path, mode)
	if err != nil {
		b.watches.remove(path)
		return errIo(err, path)
	}
	b.mu.Lock()
	for p, e := range list {
		b.snapshot[p] = e
	}
	b.mu.Unlock()
	return nil
}

func (b *pollBackend) unwatch(path string) error {
	if _, ok := b.watches.get(path); !ok {
		return errWatchNotFound(path)
	}
	b.watches.remove(path)

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.snapshot, path)
	for p := range b.snapshot {
		if hasPathPrefix(p, path) {
			delete(b.snapshot, p)
		}
	}
	return nil
}

func (b *pollBackend) close() error {
	b.closeOne.Do(func() { close(b.done) })
	<-b.doneResp
	return nil
}

func (b *pollBackend) list(root string, mode RecursiveMode) (map[string]pollEntry, error) {
	out := make(map[string]pollEntry)
	add := func(path string, info os.FileInfo) {
		e := pollEntry{info: info}
		if id, err := fileid.FromLstatPath(path); err == nil {
			e.id = id
		}
		if b.opts.fileHashing && !info.IsDir() {
			if h, err := hashFile(path); err == nil {
				e.hash = h
			}
		}
		out[path] = e
	}

	info, err := os.Lstat(root)
	if err != nil {
		return nil, err
	}
	add(root, info)
	if !info.IsDir() {
		return out, nil
	}

	if mode != Recursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			return out, err
		}
		for _, e := range entries {
			p := filepath.Join(root, e.Name())
			if fi, err := e.Info(); err == nil {
				add(p, fi)
			}
		}
		return out, nil
	}

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		add(path, info)
		return nil
	})
	return out, err
}

func hashFile(path string) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

func (b *pollBackend) loop() {
	defer close(b.doneResp)
	for {
		interval := b.pollInterval()
		select {
		case <-b.done:
			return
		case <-time.After(interval):
		}
		b.scan()
	}
}

func (b *pollBackend) pollInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts.pollInterval
}

func (b *pollBackend) scan() {
	paths := b.watches.paths()
	roots := make(map[string]RecursiveMode, len(paths))
	for _, p := range paths {
		if d, ok := b.watches.get(p); ok {
			roots[p] = d.Recursive
		}
	}

	current := make(map[string]pollEntry)
	for root, mode := range roots {
		list, err := b.list(root, mode)
		if err != nil {
			if !os.IsNotExist(err) {
				b.sink.SendError(*errIo(err, root))
			}
			continue
		}
		for p, e := range list {
			current[p] = e
		}
	}

	b.mu.Lock()
	prev := b.snapshot
	b.snapshot = current
	b.mu.Unlock()

	b.diff(prev, current)
}

// diff compares two full-tree snapshots and emits Create/Remove/Modify,
// pairing a disappeared path against a newly-appeared one sharing the
// same FileId as a rename (the reference implementation's polling backend
// pairs on os.SameFile instead).
func (b *pollBackend) diff(prev, current map[string]pollEntry) {
	removed := make(map[string]pollEntry)
	for p, e := range prev {
		if _, ok := current[p]; !ok {
			removed[p] = e
		}
	}
	created := make(map[string]pollEntry)
	for p, e := range current {
		old, ok := prev[p]
		if !ok {
			created[p] = e
			continue
		}
		b.emitModifyIfChanged(p, old, e)
	}

	for op, oe := range removed {
		matched := false
		for np, ne := range created {
			if oe.id.IsZero() || ne.id.IsZero() {
				continue
			}
			if oe.id != ne.id || oe.info.IsDir() != ne.info.IsDir() {
				continue
			}
			b.sink.Send(Event{Kind: KindModify, Sub: SubModifyNameBoth, Paths: []string{op, np}})
			delete(created, np)
			matched = true
			break
		}
		if !matched {
			b.sink.Send(Event{Kind: KindRemove, Sub: subForRemovePoll(oe.info.IsDir()), Paths: []string{op}})
		}
	}

	for p, e := range created {
		b.sink.Send(Event{Kind: KindCreate, Sub: subForCreatePoll(e.info.IsDir()), Paths: []string{p}})
	}
}

func (b *pollBackend) emitModifyIfChanged(path string, old, cur pollEntry) {
	if cur.info.IsDir() {
		return
	}
	if b.opts.fileHashing {
		if old.hash != cur.hash {
			b.sink.Send(Event{Kind: KindModify, Sub: SubModifyDataContent, Paths: []string{path}})
		}
	} else if !old.info.ModTime().Equal(cur.info.ModTime()) || old.info.Size() != cur.info.Size() {
		b.sink.Send(Event{Kind: KindModify, Sub: SubModifyDataContent, Paths: []string{path}})
	}
	if old.info.Mode() != cur.info.Mode() {
		b.sink.Send(Event{Kind: KindModify, Sub: SubModifyMetaPermissions, Paths: []string{path}})
	}
}

func subForCreatePoll(isDir bool) Sub {
	if isDir {
		return SubCreateFolder
	}
	return SubCreateFile
}

func subForRemovePoll(isDir bool) Sub {
	if isDir {
		return SubRemoveFolder
	}
	return SubRemoveFile
}
