//go:build windows

package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWindowsBackend(t *testing.T) (*windowsBackend, *ChanSink) {
	t.Helper()
	sink := NewChanSink(64)
	b, err := newWindowsBackend(sink, defaultOptions(), discardEntry())
	if err != nil {
		t.Fatalf("newWindowsBackend: %v", err)
	}
	t.Cleanup(func() { b.(*windowsBackend).close() })
	return b.(*windowsBackend), sink
}

func waitForWindowsEvent(t *testing.T, sink *ChanSink, kind Kind) Event {
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

func TestWindowsBackendCreateModifyRemove(t *testing.T) {
	dir := t.TempDir()
	b, sink := newTestWindowsBackend(t)

	if err := b.watch(dir, Recursive); err != nil {
		t.Fatalf("watch: %v", err)
	}

	target := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(target, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForWindowsEvent(t, sink, KindCreate)

	if err := os.WriteFile(target, []byte("ab"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForWindowsEvent(t, sink, KindModify)

	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}
	waitForWindowsEvent(t, sink, KindRemove)
}

func TestWindowsBackendUnwatchReportsNotFound(t *testing.T) {
	b, _ := newTestWindowsBackend(t)
	err := b.unwatch(`C:\no\such\watch`)
	if err == nil {
		t.Fatal("expected an error")
	}
}
