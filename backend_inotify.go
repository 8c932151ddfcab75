//go:build linux

// Package notify: Linux backend, built on inotify. Grounded on the
// reference implementation's backend_inotify.go (epoll-multiplexed reactor
// over the inotify fd plus a self-pipe for in-band control) and
// inotify_poller.go (the epoll wrapper itself), generalized to the
// EventModel in event.go and to an LRU-backed cookie cache instead of a
// fixed-size array.
package notify

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/watchkit/notify/internal"
)

// cookieWindow is how long we hold a lone IN_MOVED_FROM waiting for its
// IN_MOVED_TO before giving up and emitting a plain Remove -- a small
// temporal window of a few event loop iterations.
const cookieWindow = 50 * time.Millisecond

type inotifyWatch struct {
	wd        uint32
	path      string
	recursive bool
}

type pendingMove struct {
	path string
	at   time.Time
}

type inotifyBackend struct {
	sink EventSink
	log  *logrus.Entry

	fd      int
	poller  *epollPoller
	opts    options

	mu       sync.RWMutex
	byWd     map[uint32]*inotifyWatch
	byPath   map[string]*inotifyWatch
	roots    map[string]bool // recursive root paths, for new-subtree detection

	cookies *lru.Cache[uint32, pendingMove]

	ctl      chan ctlMsg
	done     chan struct{}
	doneResp chan struct{}
	closeOne sync.Once
}

func newInotifyBackend(sink EventSink, opts options, log *logrus.Entry) (backend, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, errIo(err)
	}
	poller, err := newEpollPoller(fd)
	if err != nil {
		unix.Close(fd)
		return nil, errIo(err)
	}
	cookies, _ := lru.New[uint32, pendingMove](1024)

	b := &inotifyBackend{
		sink:     sink,
		log:      log,
		fd:       fd,
		poller:   poller,
		opts:     opts,
		byWd:     make(map[uint32]*inotifyWatch),
		byPath:   make(map[string]*inotifyWatch),
		roots:    make(map[string]bool),
		cookies:  cookies,
		ctl:      make(chan ctlMsg),
		done:     make(chan struct{}),
		doneResp: make(chan struct{}),
	}
	go b.loop()
	return b, nil
}

func (b *inotifyBackend) kind() WatcherKind { return KindInotify }

func (b *inotifyBackend) configure(o options) bool {
	b.mu.Lock()
	b.opts = o
	b.mu.Unlock()
	// inotify has no runtime-tunable knobs among the option set; its
	// recursive walk never traverses symlinks, so followSymlinks has no
	// effect here.
	return true
}

func (b *inotifyBackend) watch(path string, mode RecursiveMode) error {
	result := make(chan error, 1)
	select {
	case <-b.done:
		return errIo(fmt.Errorf("backend closed"), path)
	case b.ctl <- ctlMsg{op: ctlAdd, path: path, mode: mode, result: result}:
	}
	return <-result
}

func (b *inotifyBackend) unwatch(path string) error {
	result := make(chan error, 1)
	select {
	case <-b.done:
		return errIo(fmt.Errorf("backend closed"), path)
	case b.ctl <- ctlMsg{op: ctlRemove, path: path, result: result}:
	}
	return <-result
}

func (b *inotifyBackend) close() error {
	b.closeOne.Do(func() {
		close(b.done)
		b.poller.wake()
	})
	<-b.doneResp
	return nil
}

const inotifyMask = unix.IN_CREATE | unix.IN_DELETE | unix.IN_DELETE_SELF |
	unix.IN_MODIFY | unix.IN_ATTRIB | unix.IN_MOVE_SELF |
	unix.IN_MOVED_FROM | unix.IN_MOVED_TO | unix.IN_CLOSE_WRITE | unix.IN_Q_OVERFLOW

func (b *inotifyBackend) addDir(path string, recursive bool) error {
	wd, err := unix.InotifyAddWatch(b.fd, path, inotifyMask)
	if err != nil {
		if err == unix.ENOSPC {
			return errMaxFilesWatch(path)
		}
		if err == internal.UnixEACCES {
			b.log.WithField("path", path).Warn("inotify: permission denied adding watch")
		}
		return errIo(err, path)
	}
	w := &inotifyWatch{wd: uint32(wd), path: path, recursive: recursive}
	b.mu.Lock()
	b.byWd[w.wd] = w
	b.byPath[path] = w
	b.mu.Unlock()
	return nil
}

func (b *inotifyBackend) walkAndAdd(root string, follow bool) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			if d.Type()&fs.ModeSymlink != 0 && !follow {
				return nil
			}
			return nil
		}
		return b.addDir(p, true)
	})
}

func (b *inotifyBackend) handleAdd(path string, mode RecursiveMode) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errPathNotFound(path)
		}
		return errIo(err, path)
	}

	b.mu.RLock()
	_, already := b.byPath[path]
	b.mu.RUnlock()
	if already {
		return nil
	}

	if mode == Recursive {
		b.mu.Lock()
		b.roots[path] = true
		b.mu.Unlock()
		if info.IsDir() {
			return b.walkAndAdd(path, b.opts.followSymlinks)
		}
	}
	return b.addDir(path, mode == Recursive)
}

func (b *inotifyBackend) handleRemove(path string) error {
	b.mu.Lock()
	w, ok := b.byPath[path]
	if !ok {
		b.mu.Unlock()
		return errWatchNotFound(path)
	}
	delete(b.roots, path)
	toRemove := []*inotifyWatch{w}
	if w.recursive {
		for p, sub := range b.byPath {
			if p != path && hasPathPrefix(p, path) {
				toRemove = append(toRemove, sub)
			}
		}
	}
	for _, r := range toRemove {
		delete(b.byWd, r.wd)
		delete(b.byPath, r.path)
	}
	b.mu.Unlock()

	for _, r := range toRemove {
		unix.InotifyRmWatch(b.fd, r.wd)
	}
	return nil
}

// loop is the dispatch thread: it runs the blocking epoll_wait on a side
// goroutine and funnels "data ready" back over a channel, so a control
// operation on b.ctl never has to wait for the current epoll_wait to
// return on its own. The select gives neither source priority; the
// poller's self-pipe only wakes it for shutdown. A ticker expires lone
// IN_MOVED_FROM halves even when no further kernel events arrive.
func (b *inotifyBackend) loop() {
	defer close(b.doneResp)
	defer unix.Close(b.fd)
	defer b.poller.close()

	ready := make(chan struct{}, 1)
	waitErr := make(chan error, 1)
	go func() {
		for {
			r, err := b.poller.wait()
			if err != nil {
				waitErr <- err
				return
			}
			select {
			case <-b.done:
				return
			default:
			}
			if r {
				ready <- struct{}{}
			}
		}
	}()

	buf := make([]byte, 64*1024)
	expire := time.NewTicker(cookieWindow)
	defer expire.Stop()
	for {
		select {
		case <-b.done:
			return

		case <-expire.C:
			b.expireCookies()

		case msg := <-b.ctl:
			var err error
			switch msg.op {
			case ctlAdd:
				err = b.handleAdd(msg.path, msg.mode)
			case ctlRemove:
				err = b.handleRemove(msg.path)
			}
			msg.result <- err

		case err := <-waitErr:
			select {
			case <-b.done:
				return
			default:
			}
			b.sink.SendError(*errIo(err))
			return

		case <-ready:
			n, err := unix.Read(b.fd, buf)
			if err != nil {
				if err == unix.EAGAIN || err == unix.EINTR {
					continue
				}
				select {
				case <-b.done:
					return
				default:
				}
				b.sink.SendError(*errIo(err))
				continue
			}
			b.processBuf(buf[:n])
			b.expireCookies()
		}
	}
}

func (b *inotifyBackend) processBuf(buf []byte) {
	var offset uint32
	for offset+unix.SizeofInotifyEvent <= uint32(len(buf)) {
		raw := (*unix.InotifyEvent)(unsafePointer(&buf[offset]))
		nameLen := raw.Len
		var name string
		if nameLen > 0 {
			nameBytes := buf[offset+unix.SizeofInotifyEvent : offset+unix.SizeofInotifyEvent+nameLen]
			name = cString(nameBytes)
		}
		b.handleRaw(raw, name)
		offset += unix.SizeofInotifyEvent + nameLen
	}
}

func (b *inotifyBackend) handleRaw(raw *unix.InotifyEvent, name string) {
	internal.Debug(b.log, name, raw.Mask)
	if raw.Mask&unix.IN_Q_OVERFLOW != 0 {
		b.sink.Send(OverflowEvent())
		b.log.Warn("inotify: event queue overflow")
		return
	}

	b.mu.RLock()
	w, ok := b.byWd[uint32(raw.Wd)]
	b.mu.RUnlock()
	if !ok {
		return
	}

	path := w.path
	if name != "" {
		path = filepath.Join(w.path, name)
	}
	isDir := raw.Mask&unix.IN_ISDIR != 0

	switch {
	case raw.Mask&unix.IN_DELETE_SELF != 0 || raw.Mask&unix.IN_MOVE_SELF != 0:
		b.mu.Lock()
		delete(b.byWd, w.wd)
		delete(b.byPath, w.path)
		b.mu.Unlock()
		return

	case raw.Mask&unix.IN_CREATE != 0:
		if isDir && w.recursive {
			if err := b.walkAndAdd(path, b.opts.followSymlinks); err != nil {
				b.log.WithError(err).Warn("inotify: failed to add watches under new subtree")
			}
		}
		b.sink.Send(Event{Kind: KindCreate, Sub: subForCreate(isDir), Paths: []string{path}})

	case raw.Mask&unix.IN_DELETE != 0:
		b.sink.Send(Event{Kind: KindRemove, Sub: subForRemove(isDir), Paths: []string{path}})

	case raw.Mask&unix.IN_MODIFY != 0 || raw.Mask&unix.IN_CLOSE_WRITE != 0:
		b.sink.Send(Event{Kind: KindModify, Sub: SubModifyDataContent, Paths: []string{path}})

	case raw.Mask&unix.IN_ATTRIB != 0:
		b.sink.Send(Event{Kind: KindModify, Sub: SubModifyMetaAny, Paths: []string{path}})

	case raw.Mask&unix.IN_MOVED_FROM != 0:
		cookie := raw.Cookie
		if cookie != 0 {
			b.cookies.Add(cookie, pendingMove{path: path, at: time.Now()})
		} else {
			b.sink.Send(Event{Kind: KindRemove, Sub: subForRemove(isDir), Paths: []string{path}})
		}

	case raw.Mask&unix.IN_MOVED_TO != 0:
		cookie := raw.Cookie
		if cookie != 0 {
			if from, ok := b.cookies.Get(cookie); ok {
				b.cookies.Remove(cookie)
				b.sink.Send(Event{
					Kind:    KindModify,
					Sub:     SubModifyNameBoth,
					Paths:   []string{from.path, path},
					Tracker: cookie,
					Attrs:   Attrs{Cookie: cookie},
				})
				if isDir && w.recursive {
					if err := b.walkAndAdd(path, b.opts.followSymlinks); err != nil {
						b.log.WithError(err).Warn("inotify: failed to add watches under renamed subtree")
					}
				}
				return
			}
		}
		if isDir && w.recursive {
			if err := b.walkAndAdd(path, b.opts.followSymlinks); err != nil {
				b.log.WithError(err).Warn("inotify: failed to add watches under renamed subtree")
			}
		}
		b.sink.Send(Event{Kind: KindCreate, Sub: subForCreate(isDir), Paths: []string{path}, Attrs: Attrs{Cookie: cookie}})
	}
}

// expireCookies emits a Remove for any lone MOVED_FROM that has waited
// longer than cookieWindow for its MOVED_TO half.
func (b *inotifyBackend) expireCookies() {
	now := time.Now()
	for _, cookie := range b.cookies.Keys() {
		from, ok := b.cookies.Peek(cookie)
		if !ok {
			continue
		}
		if now.Sub(from.at) >= cookieWindow {
			b.cookies.Remove(cookie)
			b.sink.Send(Event{Kind: KindRemove, Sub: SubRemoveOther, Paths: []string{from.path}})
		}
	}
}

func subForCreate(isDir bool) Sub {
	if isDir {
		return SubCreateFolder
	}
	return SubCreateFile
}

func subForRemove(isDir bool) Sub {
	if isDir {
		return SubRemoveFolder
	}
	return SubRemoveFile
}
