package debounce

import (
	"testing"
	"time"

	notify "github.com/watchkit/notify"
)

func TestDebouncerCoalescesAndReportsContinuous(t *testing.T) {
	out := NewChanOutputSink(8)
	d := New(out, 30*time.Millisecond, 10*time.Millisecond, nil)
	defer d.Close()

	d.Send(notify.Event{Kind: notify.KindModify, Paths: []string{"/a"}})
	time.Sleep(5 * time.Millisecond)
	d.Send(notify.Event{Kind: notify.KindModify, Paths: []string{"/a"}})

	select {
	case r := <-out.Records:
		if r.Path != "/a" {
			t.Fatalf("unexpected path %q", r.Path)
		}
		if r.Kind != KindAnyContinuous {
			t.Fatalf("expected continuous, got %s", r.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for record")
	}
}

func TestDebouncerSingleEventReportsAny(t *testing.T) {
	out := NewChanOutputSink(8)
	d := New(out, 20*time.Millisecond, 10*time.Millisecond, nil)
	defer d.Close()

	d.Send(notify.Event{Kind: notify.KindCreate, Paths: []string{"/b"}})

	select {
	case r := <-out.Records:
		if r.Kind != KindAny {
			t.Fatalf("expected Any, got %s", r.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for record")
	}
}

func TestDebouncerRenameUpdatesBothPaths(t *testing.T) {
	out := NewChanOutputSink(8)
	d := New(out, 20*time.Millisecond, 10*time.Millisecond, nil)
	defer d.Close()

	d.Send(notify.Event{Kind: notify.KindModify, Sub: notify.SubModifyNameBoth, Paths: []string{"/from", "/to"}})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-out.Records:
			seen[r.Path] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for records")
		}
	}
	if !seen["/from"] || !seen["/to"] {
		t.Fatalf("expected both rename sides reported, got %v", seen)
	}
}

func TestDebouncerErrorsBypassWindow(t *testing.T) {
	out := NewChanOutputSink(8)
	d := New(out, time.Hour, time.Hour, nil)
	defer d.Close()

	// out.Errors is unbuffered, so the send must run beside the receive.
	go d.SendError(notify.Error{Kind: notify.ErrIo, Msg: "boom"})

	select {
	case err := <-out.Errors:
		if err.Msg != "boom" {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error")
	}
}

func TestDebouncerCloseDrainsPending(t *testing.T) {
	out := NewChanOutputSink(8)
	d := New(out, time.Hour, time.Hour, nil)
	d.Send(notify.Event{Kind: notify.KindCreate, Paths: []string{"/c"}})
	d.Close()

	select {
	case r := <-out.Records:
		if r.Path != "/c" {
			t.Fatalf("unexpected path %q", r.Path)
		}
	default:
		t.Fatal("expected a drained record on close")
	}
}
