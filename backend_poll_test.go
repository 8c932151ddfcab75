package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestPollBackend(t *testing.T, opts ...Option) (*pollBackend, *ChanSink) {
	t.Helper()
	sink := NewChanSink(64)
	o := defaultOptions()
	o.pollInterval = 20 * time.Millisecond
	for _, f := range opts {
		f(&o)
	}
	b, err := newPollBackend(sink, o, discardEntry())
	if err != nil {
		t.Fatalf("newPollBackend: %v", err)
	}
	t.Cleanup(func() { b.(*pollBackend).close() })
	return b.(*pollBackend), sink
}

func waitForPollEvent(t *testing.T, sink *ChanSink, kind Kind) Event {
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

func TestPollBackendCreateModifyRemove(t *testing.T) {
	dir := t.TempDir()
	b, sink := newTestPollBackend(t)

	if err := b.watch(dir, Recursive); err != nil {
		t.Fatalf("watch: %v", err)
	}

	target := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(target, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForPollEvent(t, sink, KindCreate)

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(target, []byte("ab"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForPollEvent(t, sink, KindModify)

	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}
	waitForPollEvent(t, sink, KindRemove)
}

func TestPollBackendRename(t *testing.T) {
	dir := t.TempDir()
	b, sink := newTestPollBackend(t)

	if err := b.watch(dir, Recursive); err != nil {
		t.Fatalf("watch: %v", err)
	}

	from := filepath.Join(dir, "from.txt")
	to := filepath.Join(dir, "to.txt")
	if err := os.WriteFile(from, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForPollEvent(t, sink, KindCreate)

	if err := os.Rename(from, to); err != nil {
		t.Fatal(err)
	}
	ev := waitForPollEvent(t, sink, KindModify)
	if !ev.IsRename() {
		t.Fatalf("expected a rename, got %s", ev)
	}
}

func TestPollBackendUnwatchReportsNotFound(t *testing.T) {
	b, _ := newTestPollBackend(t)
	err := b.unwatch("/no/such/watch")
	if err == nil {
		t.Fatal("expected an error")
	}
}
