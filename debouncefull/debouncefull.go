// Package debouncefull implements the full debouncer: a typed,
// rename-aware coalescer that sits between a Backend (or WatcherFacade)
// and a caller's sink. Unlike package debounce, it never collapses the
// event taxonomy down to "something changed" -- it preserves Kind/Sub,
// deduplicates repeated events at the same path under a dominance order,
// reconstructs rename pairs a backend reported as two independent
// Remove/Create events, and reconciles a kernel-reported overflow by
// rescanning the watched tree.
package debouncefull

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	notify "github.com/watchkit/notify"
	"github.com/watchkit/notify/fileid"
)

// rank implements the dominance order used here: Create > Remove >
// Modify > Access > Any > Other. Two pending kinds at the same path
// resolve to whichever ranks higher, except for the explicitly-handled
// Create/Remove combination.
var rank = map[notify.Kind]int{
	notify.KindCreate: 5,
	notify.KindRemove: 4,
	notify.KindModify: 3,
	notify.KindAccess: 2,
	notify.KindAny:    1,
	notify.KindOther:  0,
}

type entry struct {
	kind      notify.Kind
	sub       notify.Sub
	paths     []string
	firstSeen time.Time
	lastSeen  time.Time
}

type pendingRename struct {
	path string
	at   time.Time
}

// Debouncer implements notify.EventSink on its input side (a Backend or
// WatcherFacade pushes raw events into it) and pushes its debounced,
// typed output into another notify.EventSink.
type Debouncer struct {
	window time.Duration
	tick   time.Duration
	out    notify.EventSink

	mu          sync.Mutex
	queue       map[string]*entry // keyed by the entry's primary (most recent) path
	alias       map[string]string // old rename path -> primary key, for redirecting late events
	identity    map[string]fileid.ID
	pendingAway map[fileid.ID]pendingRename

	upstream closer

	done     chan struct{}
	doneResp chan struct{}
	closeOne sync.Once
}

type closer interface{ Close() error }

// New constructs a Debouncer. upstream, if non-nil, is closed first by
// Close, before the queue is drained to out.
func New(out notify.EventSink, window, tick time.Duration, upstream closer) *Debouncer {
	if tick <= 0 {
		tick = window / 2
	}
	d := &Debouncer{
		window:      window,
		tick:        tick,
		out:         out,
		queue:       make(map[string]*entry),
		alias:       make(map[string]string),
		identity:    make(map[string]fileid.ID),
		pendingAway: make(map[fileid.ID]pendingRename),
		upstream:    upstream,
		done:        make(chan struct{}),
		doneResp:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// AddRoot walks root (bounded by the standard fs tree, symlinks not
// followed) to seed the FileId cache, so a later rename at this path can
// be reconstructed from separate remove/create events.
func (d *Debouncer) AddRoot(root string) error {
	cache := make(map[string]fileid.ID)
	err := filepath.WalkDir(root, func(p string, de os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if de.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if id, err := fileid.FromLstatPath(p); err == nil {
			cache[p] = id
		}
		return nil
	})
	d.mu.Lock()
	for p, id := range cache {
		d.identity[p] = id
	}
	d.mu.Unlock()
	return err
}

// RemoveRoot prunes every cached identity under root.
func (d *Debouncer) RemoveRoot(root string) {
	d.mu.Lock()
	for p := range d.identity {
		if p == root || hasPrefix(p, root) {
			delete(d.identity, p)
		}
	}
	d.mu.Unlock()
}

func hasPrefix(path, root string) bool {
	if path == root {
		return true
	}
	sep := string(filepath.Separator)
	if len(root) > 0 && root[len(root)-1] != sep[0] {
		root += sep
	}
	return len(path) > len(root) && path[:len(root)] == root
}

// Send implements notify.EventSink: the ingestion side the upstream
// backend/facade pushes raw events into.
func (d *Debouncer) Send(e notify.Event) {
	if e.Attrs.Overflow {
		d.reconcile()
		return
	}

	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	if e.IsRename() {
		d.applyRenameLocked(e, now)
		return
	}

	switch e.Kind {
	case notify.KindRemove:
		d.applyRemoveLocked(e, now)
	case notify.KindCreate:
		d.applyCreateLocked(e, now)
	default:
		d.mergeLocked(e.Path(), e, now)
	}
}

// SendError implements notify.EventSink; errors bypass the window.
func (d *Debouncer) SendError(err notify.Error) { d.out.SendError(err) }

// applyRenameLocked handles an already-paired rename (the common case: a
// backend's own cookie or FileId correlation already found both sides).
func (d *Debouncer) applyRenameLocked(e notify.Event, now time.Time) {
	from, to := e.Paths[0], e.Paths[1]
	if id, ok := d.identity[from]; ok {
		delete(d.identity, from)
		d.identity[to] = id
	}

	// Any record pending under the old path now belongs to the rename.
	if key, ok := d.alias[from]; ok {
		delete(d.alias, from)
		delete(d.queue, key)
	}
	delete(d.queue, from)

	d.queue[to] = &entry{kind: notify.KindModify, sub: notify.SubModifyNameBoth, paths: []string{from, to}, firstSeen: now, lastSeen: now}
	d.alias[from] = to
}

// applyRemoveLocked records the path's identity as "recently vacated" so
// a follow-up Create elsewhere with the same FileId can be reconstructed
// into a rename, then enqueues a tentative Remove.
func (d *Debouncer) applyRemoveLocked(e notify.Event, now time.Time) {
	path := e.Path()
	if id, ok := d.identity[path]; ok {
		d.pendingAway[id] = pendingRename{path: path, at: now}
	}
	d.mergeLocked(path, e, now)
}

// applyCreateLocked checks whether the new path's identity matches a
// recently-vacated one; if so this Create is really the other half of a
// rename the backend reported as two independent events.
func (d *Debouncer) applyCreateLocked(e notify.Event, now time.Time) {
	path := e.Path()
	id, err := fileid.FromLstatPath(path)
	if err != nil {
		d.mergeLocked(path, e, now)
		return
	}
	d.identity[path] = id

	away, ok := d.pendingAway[id]
	if !ok || now.Sub(away.at) >= d.window {
		delete(d.pendingAway, id)
		d.mergeLocked(path, e, now)
		return
	}
	delete(d.pendingAway, id)
	delete(d.identity, away.path)

	delete(d.queue, away.path)
	d.queue[path] = &entry{kind: notify.KindModify, sub: notify.SubModifyNameBoth, paths: []string{away.path, path}, firstSeen: now, lastSeen: now}
	d.alias[away.path] = path
}

// mergeLocked applies the dominance-order promotion rules to a single-path
// event already queued (or not yet queued) at path.
func (d *Debouncer) mergeLocked(path string, e notify.Event, now time.Time) {
	if key, ok := d.alias[path]; ok {
		path = key
	}

	cur, ok := d.queue[path]
	if !ok {
		d.queue[path] = &entry{kind: e.Kind, sub: e.Sub, paths: []string{path}, firstSeen: now, lastSeen: now}
		return
	}

	switch {
	case cur.kind == notify.KindCreate && e.Kind == notify.KindRemove,
		cur.kind == notify.KindRemove && e.Kind == notify.KindCreate:
		if exists(path) {
			cur.kind, cur.sub = notify.KindModify, notify.SubModifyDataAny
			cur.lastSeen = now
			return
		}
		if now.Sub(cur.firstSeen) < d.window {
			delete(d.queue, path)
			return
		}
		// The pending half is already overdue; let it stand and start a
		// fresh entry for the incoming one.
		d.queue[path] = &entry{kind: e.Kind, sub: e.Sub, paths: []string{path}, firstSeen: now, lastSeen: now}
		return

	case cur.kind == e.Kind:
		cur.lastSeen = now
		if cur.kind == notify.KindModify {
			cur.sub = notify.SubModifyDataAny
		}
		return
	}

	if rank[e.Kind] >= rank[cur.kind] {
		cur.kind, cur.sub = e.Kind, e.Sub
	}
	cur.lastSeen = now
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func (d *Debouncer) loop() {
	defer close(d.doneResp)
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.emitDue(false)
		}
	}
}

// emitDue emits every queue entry older than window, in
// (earliest-timestamp, path) order; final forces every remaining entry
// out regardless of age.
func (d *Debouncer) emitDue(final bool) {
	now := time.Now()
	d.mu.Lock()
	type due struct {
		key string
		e   *entry
	}
	var dueList []due
	for k, e := range d.queue {
		if final || now.Sub(e.lastSeen) >= d.window {
			dueList = append(dueList, due{k, e})
		}
	}
	sort.Slice(dueList, func(i, j int) bool {
		if dueList[i].e.firstSeen.Equal(dueList[j].e.firstSeen) {
			return dueList[i].key < dueList[j].key
		}
		return dueList[i].e.firstSeen.Before(dueList[j].e.firstSeen)
	})
	for _, du := range dueList {
		delete(d.queue, du.key)
		for _, p := range du.e.paths {
			if d.alias[p] == du.key {
				delete(d.alias, p)
			}
		}
	}
	d.mu.Unlock()

	for _, du := range dueList {
		d.out.Send(notify.Event{Kind: du.e.kind, Sub: du.e.sub, Paths: du.e.paths})
	}
}

// reconcile implements the overflow-reconciliation rule: on an overflow signal,
// flush pending state, rescan every cached root, and diff the fresh
// identity map against the stale one to synthesize the Create/Remove/
// Modify sequence needed to catch up.
func (d *Debouncer) reconcile() {
	d.mu.Lock()
	stale := d.identity
	d.identity = make(map[string]fileid.ID)
	d.queue = make(map[string]*entry)
	d.alias = make(map[string]string)
	d.pendingAway = make(map[fileid.ID]pendingRename)
	d.mu.Unlock()

	roots := make(map[string]struct{})
	for p := range stale {
		roots[topmostKnownRoot(p, stale)] = struct{}{}
	}
	fresh := make(map[string]fileid.ID)
	for root := range roots {
		filepath.WalkDir(root, func(p string, de os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if de.Type()&os.ModeSymlink != 0 {
				return nil
			}
			if id, err := fileid.FromLstatPath(p); err == nil {
				fresh[p] = id
			}
			return nil
		})
	}

	var events []notify.Event
	for p := range stale {
		if _, ok := fresh[p]; !ok {
			events = append(events, Event(notify.KindRemove, p))
		}
	}
	for p, id := range fresh {
		if old, ok := stale[p]; !ok {
			events = append(events, Event(notify.KindCreate, p))
		} else if old != id {
			events = append(events, Event(notify.KindModify, p))
		}
	}

	d.mu.Lock()
	d.identity = fresh
	d.mu.Unlock()

	for _, ev := range events {
		d.out.Send(ev)
	}
}

// Event builds a single-path reconciliation event with a best-effort Sub.
func Event(kind notify.Kind, path string) notify.Event {
	sub := notify.SubAny
	switch kind {
	case notify.KindCreate:
		sub = notify.SubCreateOther
	case notify.KindRemove:
		sub = notify.SubRemoveOther
	case notify.KindModify:
		sub = notify.SubModifyDataAny
	}
	return notify.Event{Kind: kind, Sub: sub, Paths: []string{path}, Attrs: notify.Attrs{Rescanned: true}}
}

// topmostKnownRoot has no directory-tree metadata to search with beyond
// the flat identity map, so it falls back to the shortest recorded path
// that is p itself or an ancestor of p -- good enough to re-walk the right subtree after AddRoot populated the cache
// from an actual root.
func topmostKnownRoot(p string, known map[string]fileid.ID) string {
	best := p
	for cand := range known {
		if len(cand) < len(best) && hasPrefix(p, cand) {
			best = cand
		}
	}
	return best
}

// Close shuts down the upstream watcher (if any), stops the debounce
// timer, and flushes every still-pending entry to the output sink.
func (d *Debouncer) Close() error {
	var upstreamErr error
	d.closeOne.Do(func() {
		if d.upstream != nil {
			upstreamErr = d.upstream.Close()
		}
		close(d.done)
	})
	<-d.doneResp
	d.emitDue(true)
	return upstreamErr
}
