// Package debounce implements the mini debouncer: a timer-based coalescer
// that turns a noisy raw event stream into one "something changed here"
// record per quiet window, discarding the original event's Kind/Sub
// entirely. It's the cheap, untyped counterpart to package debouncefull.
package debounce

import (
	"io"
	"sync"
	"time"

	notify "github.com/watchkit/notify"
)

// Kind classifies a debounced record: whether the path settled after a
// single event, or kept changing throughout the window.
type Kind uint8

const (
	KindAny Kind = iota
	KindAnyContinuous
)

func (k Kind) String() string {
	if k == KindAnyContinuous {
		return "any-continuous"
	}
	return "any"
}

// Record is the mini debouncer's output: a path known to have changed,
// and whether it kept changing during the debounce window.
type Record struct {
	Path string
	Kind Kind
}

// OutputSink is where a Debouncer pushes its coalesced records, the
// debounced analogue of notify.EventSink.
type OutputSink interface {
	SendRecord(Record)
	SendError(notify.Error)
}

// ChanOutputSink is the default OutputSink: a pair of channels.
type ChanOutputSink struct {
	Records chan Record
	Errors  chan notify.Error
	done    chan struct{}
}

// NewChanOutputSink creates a ChanOutputSink with the given Records buffer
// size. Errors is always unbuffered.
func NewChanOutputSink(recordsBuf uint) *ChanOutputSink {
	return &ChanOutputSink{
		Records: make(chan Record, recordsBuf),
		Errors:  make(chan notify.Error),
		done:    make(chan struct{}),
	}
}

func (s *ChanOutputSink) SendRecord(r Record) {
	select {
	case <-s.done:
	case s.Records <- r:
	}
}

func (s *ChanOutputSink) SendError(err notify.Error) {
	select {
	case <-s.done:
	case s.Errors <- err:
	}
}

// Close releases anything blocked in SendRecord/SendError.
func (s *ChanOutputSink) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Debouncer implements notify.EventSink, so a WatcherFacade (or any other
// event producer) can push directly into it; its own coalesced output
// goes to an OutputSink. Window is how long a path must stay quiet before
// it's reported; tick is how often the Debouncer checks for quiet paths
// (defaulting to window itself when unset).
type Debouncer struct {
	window time.Duration
	tick   time.Duration
	out    OutputSink

	mu         sync.Mutex
	lastSeen   map[string]time.Time
	continuous map[string]bool

	upstream io.Closer

	done     chan struct{}
	doneResp chan struct{}
	closeOne sync.Once
}

// New constructs a Debouncer. upstream, if non-nil, is closed first by
// Close -- the "dropping the debouncer shuts down [...] the upstream
// watcher" cancellation rule -- before the debouncer drains its own
// pending state to out.
func New(out OutputSink, window, tick time.Duration, upstream io.Closer) *Debouncer {
	if tick <= 0 {
		tick = window
	}
	d := &Debouncer{
		window:     window,
		tick:       tick,
		out:        out,
		lastSeen:   make(map[string]time.Time),
		continuous: make(map[string]bool),
		upstream:   upstream,
		done:       make(chan struct{}),
		doneResp:   make(chan struct{}),
	}
	go d.loop()
	return d
}

// Send implements notify.EventSink. It never blocks: it just updates the
// last-seen timestamp for every path the event touches (both sides of a
// rename) under a short-lived mutex.
func (d *Debouncer) Send(e notify.Event) {
	now := time.Now()
	d.mu.Lock()
	for _, p := range e.Paths {
		if _, seen := d.lastSeen[p]; seen {
			d.continuous[p] = true
		}
		d.lastSeen[p] = now
	}
	d.mu.Unlock()
}

// SendError implements notify.EventSink. Errors bypass the debounce
// window entirely and are forwarded immediately.
func (d *Debouncer) SendError(err notify.Error) {
	d.out.SendError(err)
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
			d.flush(false)
		}
	}
}

// flush emits a Record for every path whose last-seen timestamp is at
// least window in the past; final forces every remaining path out
// regardless of age, used when draining on Close.
func (d *Debouncer) flush(final bool) {
	now := time.Now()
	d.mu.Lock()
	var ready []string
	for p, seen := range d.lastSeen {
		if final || now.Sub(seen) >= d.window {
			ready = append(ready, p)
		}
	}
	records := make([]Record, 0, len(ready))
	for _, p := range ready {
		k := KindAny
		if d.continuous[p] {
			k = KindAnyContinuous
		}
		records = append(records, Record{Path: p, Kind: k})
		delete(d.lastSeen, p)
		delete(d.continuous, p)
	}
	d.mu.Unlock()

	for _, r := range records {
		d.out.SendRecord(r)
	}
}

// Close shuts down the upstream watcher (if any), stops the debounce
// timer, and flushes every still-pending path to the output sink before
// returning.
func (d *Debouncer) Close() error {
	var upstreamErr error
	d.closeOne.Do(func() {
		if d.upstream != nil {
			upstreamErr = d.upstream.Close()
		}
		close(d.done)
	})
	<-d.doneResp
	d.flush(true)
	return upstreamErr
}
