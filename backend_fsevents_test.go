//go:build darwin

package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestFSEventsBackend(t *testing.T) (*fsEventsBackend, *ChanSink) {
	t.Helper()
	sink := NewChanSink(64)
	b, err := newFSEventsBackend(sink, defaultOptions(), discardEntry())
	if err != nil {
		t.Fatalf("newFSEventsBackend: %v", err)
	}
	t.Cleanup(func() { b.(*fsEventsBackend).close() })
	return b.(*fsEventsBackend), sink
}

func waitForFSEvent(t *testing.T, sink *ChanSink, kind Kind) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-sink.Events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestFSEventsBackendCreateAndModify(t *testing.T) {
	dir := t.TempDir()
	b, sink := newTestFSEventsBackend(t)

	if err := b.watch(dir, Recursive); err != nil {
		t.Fatalf("watch: %v", err)
	}

	target := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(target, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForFSEvent(t, sink, KindCreate)

	if err := os.WriteFile(target, []byte("ab"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForFSEvent(t, sink, KindModify)
}

func TestFSEventsBackendUnwatchReportsNotFound(t *testing.T) {
	b, _ := newTestFSEventsBackend(t)
	err := b.unwatch("/no/such/watch")
	if err == nil {
		t.Fatal("expected an error")
	}
}
