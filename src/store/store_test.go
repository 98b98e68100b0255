package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "croquis.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenCreatesRootFolderOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "croquis.db")
	for i := 0; i < 2; i++ {
		s, err := Open(context.Background(), path)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		folders, err := s.ListFolders(context.Background())
		if err != nil {
			t.Fatalf("list folders: %v", err)
		}
		if len(folders) != 1 || folders[0].Name != "root" {
			t.Fatalf("folders = %+v, want single root", folders)
		}
		_ = s.Close()
	}
}

func TestRecordHistoryAndAttachImage(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	ctx := context.Background()
	date := time.Date(2024, time.March, 3, 10, 0, 0, 0, time.UTC)

	id, err := s.RecordHistory(ctx, HistoryEntry{
		Date:      date,
		MaxTime:   60,
		RealTime:  61.5,
		ImagePath: "/refs/pose1.jpg",
		FolderID:  1,
	})
	if err != nil {
		t.Fatalf("record history: %v", err)
	}
	if err := s.AttachImage(ctx, id, "/drawings/capture_w1.png"); err != nil {
		t.Fatalf("attach image: %v", err)
	}

	recs, err := s.ListHistory(ctx, 1)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.ID != id || rec.FileName != "pose1.jpg" || rec.MaxTime != 60 || rec.RealTime != 61.5 {
		t.Fatalf("record = %+v", rec)
	}
	if !rec.Date.Equal(date) {
		t.Fatalf("date = %v, want %v", rec.Date, date)
	}
	if rec.ImagePath != "/drawings/capture_w1.png" || rec.ImageName != "capture_w1.png" {
		t.Fatalf("image = %q (%q)", rec.ImagePath, rec.ImageName)
	}
}

func TestRecordHistoryReusesFileRow(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.RecordHistory(ctx, HistoryEntry{MaxTime: 30, ImagePath: "/refs/a.png", FolderID: 1}); err != nil {
			t.Fatalf("record #%d: %v", i, err)
		}
	}
	recs, err := s.ListHistory(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[0].FileID != recs[1].FileID {
		t.Fatalf("records = %+v, want two sharing one file", recs)
	}
	if recs[0].ID < recs[1].ID {
		t.Fatal("expected newest first")
	}
}

func TestRecordHistoryUnknownFolderFallsBackToFirst(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	ctx := context.Background()
	if _, err := s.CreateFolder(ctx, "studies"); err != nil {
		t.Fatalf("create folder: %v", err)
	}
	if _, err := s.RecordHistory(ctx, HistoryEntry{ImagePath: "/refs/a.png", FolderID: 99}); err != nil {
		t.Fatalf("record: %v", err)
	}
	recs, err := s.ListHistory(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].FolderID != 1 {
		t.Fatalf("records = %+v, want one in folder 1", recs)
	}
}

func TestRecordHistoryRequiresImagePath(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	if _, err := s.RecordHistory(context.Background(), HistoryEntry{}); err == nil {
		t.Fatal("expected error for empty image path")
	}
}

func TestAttachImageErrors(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	ctx := context.Background()

	if err := s.AttachImage(ctx, 42, "/drawings/x.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	id, err := s.RecordHistory(ctx, HistoryEntry{ImagePath: "/refs/a.png"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.AttachImage(ctx, id, "/drawings/x.png"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := s.AttachImage(ctx, id, "/drawings/y.png"); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("err = %v, want ErrAlreadyAttached", err)
	}
}

func TestUpSection(t *testing.T) {
	t.Parallel()

	in := "-- +migrate Up\nCREATE TABLE a (id INT);\n-- +migrate Down\nDROP TABLE a;\n"
	if got := upSection(in); got != "\nCREATE TABLE a (id INT);\n" {
		t.Fatalf("upSection = %q", got)
	}
	if got := upSection("SELECT 1;"); got != "SELECT 1;" {
		t.Fatalf("upSection without markers = %q", got)
	}
}
