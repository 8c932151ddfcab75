package debouncefull

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	notify "github.com/watchkit/notify"
)

type captureSink struct {
	events chan notify.Event
	errors chan notify.Error
}

func newCaptureSink() *captureSink {
	return &captureSink{events: make(chan notify.Event, 32), errors: make(chan notify.Error, 8)}
}

func (s *captureSink) Send(e notify.Event)      { s.events <- e }
func (s *captureSink) SendError(e notify.Error) { s.errors <- e }

func waitEvent(t *testing.T, ch chan notify.Event) notify.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return notify.Event{}
	}
}

func TestDebouncerModifyModifyCollapses(t *testing.T) {
	out := newCaptureSink()
	d := New(out, 30*time.Millisecond, 10*time.Millisecond, nil)
	defer d.Close()

	d.Send(notify.Event{Kind: notify.KindModify, Paths: []string{"/a"}})
	d.Send(notify.Event{Kind: notify.KindModify, Paths: []string{"/a"}})

	ev := waitEvent(t, out.events)
	if ev.Kind != notify.KindModify || ev.Path() != "/a" {
		t.Fatalf("unexpected event: %s", ev)
	}
	select {
	case ev2 := <-out.events:
		t.Fatalf("expected only one emitted event, got a second: %s", ev2)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDebouncerCreateThenModifyStaysCreate(t *testing.T) {
	out := newCaptureSink()
	d := New(out, 30*time.Millisecond, 10*time.Millisecond, nil)
	defer d.Close()

	d.Send(notify.Event{Kind: notify.KindCreate, Paths: []string{"/a"}})
	d.Send(notify.Event{Kind: notify.KindModify, Paths: []string{"/a"}})

	ev := waitEvent(t, out.events)
	if ev.Kind != notify.KindCreate {
		t.Fatalf("expected Create to dominate, got %s", ev.Kind)
	}
}

func TestDebouncerCreateThenRemoveCancelsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ephemeral")

	out := newCaptureSink()
	d := New(out, time.Hour, time.Hour, nil)
	defer d.Close()

	d.Send(notify.Event{Kind: notify.KindCreate, Paths: []string{path}})
	d.Send(notify.Event{Kind: notify.KindRemove, Paths: []string{path}})

	select {
	case ev := <-out.events:
		t.Fatalf("expected Create+Remove to cancel, got %s", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDebouncerReconstructsRenameFromSeparateEvents(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "from.txt")
	to := filepath.Join(dir, "to.txt")
	if err := os.WriteFile(from, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := newCaptureSink()
	d := New(out, 200*time.Millisecond, 20*time.Millisecond, nil)
	defer d.Close()
	if err := d.AddRoot(dir); err != nil {
		t.Fatal(err)
	}

	if err := os.Rename(from, to); err != nil {
		t.Fatal(err)
	}
	d.Send(notify.Event{Kind: notify.KindRemove, Paths: []string{from}})
	d.Send(notify.Event{Kind: notify.KindCreate, Paths: []string{to}})

	ev := waitEvent(t, out.events)
	if !ev.IsRename() {
		t.Fatalf("expected a reconstructed rename, got %s", ev)
	}
	if ev.Paths[0] != from || ev.Paths[1] != to {
		t.Fatalf("unexpected rename paths: %v", ev.Paths)
	}
}

func TestDebouncerErrorsBypassWindow(t *testing.T) {
	out := newCaptureSink()
	d := New(out, time.Hour, time.Hour, nil)
	defer d.Close()

	d.SendError(notify.Error{Kind: notify.ErrIo, Msg: "boom"})
	select {
	case err := <-out.errors:
		if err.Msg != "boom" {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error")
	}
}

func TestDebouncerCloseDrainsPending(t *testing.T) {
	out := newCaptureSink()
	d := New(out, time.Hour, time.Hour, nil)
	d.Send(notify.Event{Kind: notify.KindCreate, Paths: []string{"/c"}})
	d.Close()

	select {
	case ev := <-out.events:
		if ev.Path() != "/c" {
			t.Fatalf("unexpected path %q", ev.Path())
		}
	default:
		t.Fatal("expected a drained event on close")
	}
}
