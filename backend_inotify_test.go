//go:build linux

package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestInotifyBackend(t *testing.T) (*inotifyBackend, *ChanSink) {
	t.Helper()
	sink := NewChanSink(64)
	b, err := newInotifyBackend(sink, defaultOptions(), discardEntry())
	if err != nil {
		t.Fatalf("newInotifyBackend: %v", err)
	}
	t.Cleanup(func() { b.(*inotifyBackend).close() })
	return b.(*inotifyBackend), sink
}

func waitForInotifyEvent(t *testing.T, sink *ChanSink, kind Kind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
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

func TestInotifyBackendCreateModifyRemove(t *testing.T) {
	dir := t.TempDir()
	b, sink := newTestInotifyBackend(t)

	if err := b.watch(dir, Recursive); err != nil {
		t.Fatalf("watch: %v", err)
	}

	target := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(target, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForInotifyEvent(t, sink, KindCreate)

	if err := os.WriteFile(target, []byte("ab"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForInotifyEvent(t, sink, KindModify)

	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}
	waitForInotifyEvent(t, sink, KindRemove)
}

func TestInotifyBackendRename(t *testing.T) {
	dir := t.TempDir()
	b, sink := newTestInotifyBackend(t)

	if err := b.watch(dir, Recursive); err != nil {
		t.Fatalf("watch: %v", err)
	}

	from := filepath.Join(dir, "from.txt")
	to := filepath.Join(dir, "to.txt")
	if err := os.WriteFile(from, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForInotifyEvent(t, sink, KindCreate)

	if err := os.Rename(from, to); err != nil {
		t.Fatal(err)
	}
	ev := waitForInotifyEvent(t, sink, KindModify)
	if !ev.IsRename() {
		t.Fatalf("expected a two-sided rename, got %s", ev)
	}
	if ev.Paths[0] != from || ev.Paths[1] != to {
		t.Fatalf("unexpected rename paths: %v", ev.Paths)
	}
}

func TestInotifyBackendRecursiveSubtree(t *testing.T) {
	dir := t.TempDir()
	b, sink := newTestInotifyBackend(t)

	if err := b.watch(dir, Recursive); err != nil {
		t.Fatalf("watch: %v", err)
	}

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	waitForInotifyEvent(t, sink, KindCreate)

	nested := filepath.Join(sub, "nested.txt")
	if err := os.WriteFile(nested, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ev := waitForInotifyEvent(t, sink, KindCreate)
	if ev.Path() != nested {
		t.Fatalf("expected newly-watched subtree to report creates, got %s", ev)
	}
}

func TestInotifyBackendUnwatchReportsNotFound(t *testing.T) {
	b, _ := newTestInotifyBackend(t)
	err := b.unwatch("/no/such/watch")
	if err == nil {
		t.Fatal("expected an error")
	}
}
