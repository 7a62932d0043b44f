package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func testRoundTrip(t *testing.T, fsys FileSystem, name string) {
	t.Helper()
	w, err := fsys.Create(name)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("edge,kept\n0.1,42\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	got, err := fsys.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "edge,kept\n0.1,42\n" {
		t.Errorf("unexpected contents %q", got)
	}
}

func TestOSFileSystem(t *testing.T) {
	testRoundTrip(t, OSFileSystem{}, filepath.Join(t.TempDir(), "out.csv"))
}

func TestMemoryFileSystem(t *testing.T) {
	m := NewMemoryFileSystem()
	testRoundTrip(t, m, "reports/../out.csv")

	if _, err := m.ReadFile("out.csv"); err != nil {
		t.Errorf("expected cleaned path to resolve, got %v", err)
	}
	if _, err := m.ReadFile("missing.csv"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}

	w, _ := m.Create("twice.csv")
	w.Close()
	if err := w.Close(); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected ErrClosed on second close, got %v", err)
	}
	if _, err := w.Write([]byte("x")); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected ErrClosed on write after close, got %v", err)
	}
}
