package notify

import (
	"testing"

	"github.com/watchkit/notify/internal/ztest"
)

func TestEventStringFormat(t *testing.T) {
	e := Event{Kind: KindCreate, Sub: SubCreateFile, Paths: []string{"/tmp/a"}}
	if d := ztest.Diff(e.String(), "create(file) /tmp/a"); d != "" {
		t.Error(d)
	}
}

func TestEventStringRenameFormat(t *testing.T) {
	e := Event{Kind: KindModify, Sub: SubModifyNameBoth, Paths: []string{"/a", "/b"}, Tracker: 7}
	if d := ztest.Diff(e.String(), "modify(name(both)) /a -> /b [tracker=7]"); d != "" {
		t.Error(d)
	}
}

func TestEventStringOverflowFormat(t *testing.T) {
	e := OverflowEvent("/root")
	if d := ztest.Diff(e.String(), "other(any) /root [overflow]"); d != "" {
		t.Error(d)
	}
}

func TestIsRename(t *testing.T) {
	rename := Event{Kind: KindModify, Sub: SubModifyNameBoth, Paths: []string{"/a", "/b"}}
	if !rename.IsRename() {
		t.Error("expected IsRename true for a two-sided name-both modify")
	}
	plain := Event{Kind: KindModify, Sub: SubModifyDataContent, Paths: []string{"/a"}}
	if plain.IsRename() {
		t.Error("expected IsRename false for a plain content modify")
	}
}
