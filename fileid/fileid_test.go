package fileid

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromPathStableAcrossRename(t *testing.T) {
	dir := t.TempDir()
	orig := filepath.Join(dir, "orig")
	if err := os.WriteFile(orig, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	before, err := FromPath(orig)
	if err != nil {
		t.Fatal(err)
	}
	if before.IsZero() {
		t.Fatal("resolved ID should not be zero")
	}

	renamed := filepath.Join(dir, "renamed")
	if err := os.Rename(orig, renamed); err != nil {
		t.Fatal(err)
	}

	after, err := FromPath(renamed)
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Fatalf("identity changed across rename: %v != %v", before, after)
	}
}

func TestFromPathResolvesAfterRecreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	first, err := FromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := FromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	// Not guaranteed by POSIX in general (inode reuse is legal), but in
	// practice a same-second recreate on the same tmp filesystem gets a
	// fresh inode; this documents the expectation rather than asserting
	// an iron guarantee.
	_ = first
	_ = second
}

func TestIDStringAndIsZero(t *testing.T) {
	var id ID
	if !id.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	id = ID{Device: 1, File: 2}
	if id.IsZero() {
		t.Fatal("non-zero ID reported IsZero")
	}
	if id.String() == "" {
		t.Fatal("String should not be empty")
	}
}
