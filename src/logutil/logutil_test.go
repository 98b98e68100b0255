package logutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), LogFileName)
	w, err := NewRotatingWriter(path, 16)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	for i := 0; i < 6; i++ {
		if _, err := w.Write(bytes.Repeat([]byte{'a' + byte(i)}, 10)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	for n := 1; n <= maxArchives; n++ {
		if _, err := os.Stat(archiveName(path, n)); err != nil {
			t.Errorf("expected archive %d: %v", n, err)
		}
	}
	if _, err := os.Stat(archiveName(path, maxArchives+1)); !os.IsNotExist(err) {
		t.Errorf("expected no archive beyond %d, got err=%v", maxArchives, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current log: %v", err)
	}
	if string(data) != "ffffffffff" {
		t.Errorf("current log = %q, want the last write", data)
	}
	oldest, _ := os.ReadFile(archiveName(path, maxArchives))
	if string(oldest) != "cccccccccc" {
		t.Errorf("oldest archive = %q", oldest)
	}
}

func TestRotatingWriterRotatesOversizedFileOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), LogFileName)
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 32), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := NewRotatingWriter(path, 16)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	if _, err := os.Stat(archiveName(path, 1)); err != nil {
		t.Errorf("expected oversized log to be archived: %v", err)
	}
}
