//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestKqueueBackend(t *testing.T) (*kqueueBackend, *ChanSink) {
	t.Helper()
	sink := NewChanSink(64)
	b, err := newKqueueBackend(sink, defaultOptions(), discardEntry())
	if err != nil {
		t.Fatalf("newKqueueBackend: %v", err)
	}
	t.Cleanup(func() { b.(*kqueueBackend).close() })
	return b.(*kqueueBackend), sink
}

func waitForKqEvent(t *testing.T, sink *ChanSink, kind Kind) Event {
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

func TestKqueueBackendCreateAndModify(t *testing.T) {
	dir := t.TempDir()
	b, sink := newTestKqueueBackend(t)

	if err := b.watch(dir, Recursive); err != nil {
		t.Fatalf("watch: %v", err)
	}

	target := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(target, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForKqEvent(t, sink, KindCreate)

	if err := os.WriteFile(target, []byte("ab"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForKqEvent(t, sink, KindModify)
}

func TestKqueueBackendRemove(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(target, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	b, sink := newTestKqueueBackend(t)
	if err := b.watch(dir, Recursive); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}
	waitForKqEvent(t, sink, KindRemove)
}

func TestKqueueBackendUnwatchReportsNotFound(t *testing.T) {
	b, _ := newTestKqueueBackend(t)
	err := b.unwatch("/no/such/watch")
	if err == nil {
		t.Fatal("expected an error")
	}
}
