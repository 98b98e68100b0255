// Package store persists drawing history in SQLite. It is the persistence
// gateway used by the session controller.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"croquis-timer/src/store/migrations"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyAttached is returned when a history already has an image.
	ErrAlreadyAttached = errors.New("history already has an image")
)

// HistoryEntry is one practice record for a reference image.
type HistoryEntry struct {
	Date      time.Time
	MaxTime   int     // seconds
	RealTime  float64 // seconds
	ImagePath string  // reference image
	FolderID  int64
}

// HistoryRecord is a stored history row joined with its reference file and
// the attached drawing, if any.
type HistoryRecord struct {
	ID        int64
	FileID    int64
	Date      time.Time
	MaxTime   int
	RealTime  float64
	FolderID  int64
	FilePath  string
	FileName  string
	ImageID   int64
	ImageName string
	ImagePath string
}

// Folder groups history records.
type Folder struct {
	ID   int64
	Name string
}

// Store is a SQLite-backed history store.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path, creating its directory, and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	dsn := "file:" + cleanPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Printf("Store: opened %s", cleanPath)
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordHistory stores entry and returns the new history id. The reference
// file row is created on first use. An unknown folder falls back to the
// first folder.
func (s *Store) RecordHistory(ctx context.Context, entry HistoryEntry) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	imagePath := strings.TrimSpace(entry.ImagePath)
	if imagePath == "" {
		return 0, fmt.Errorf("image path is required")
	}
	date := entry.Date
	if date.IsZero() {
		date = time.Now()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin history transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	fileID, err := ensureFile(ctx, tx, imagePath)
	if err != nil {
		return 0, err
	}
	folderID, err := resolveFolder(ctx, tx, entry.FolderID)
	if err != nil {
		return 0, err
	}
	var folder sql.NullInt64
	if folderID != 0 {
		folder = sql.NullInt64{Int64: folderID, Valid: true}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO folder_file (folderId, fileId) VALUES (?, ?)`, folderID, fileID); err != nil {
			return 0, fmt.Errorf("link file to folder: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO history (fileId, date, maxTime, realTime, folderId) VALUES (?, ?, ?, ?, ?)`,
		fileID, date.UTC().Format(time.RFC3339Nano), entry.MaxTime, entry.RealTime, folder)
	if err != nil {
		return 0, fmt.Errorf("insert history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("history id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit history: %w", err)
	}
	return id, nil
}

func ensureFile(ctx context.Context, tx *sql.Tx, path string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM file WHERE filePath = ?`, path).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup file: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO file (fileName, filePath, dirname) VALUES (?, ?, ?)`,
		filepath.Base(path), path, filepath.Dir(path))
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	return res.LastInsertId()
}

func resolveFolder(ctx context.Context, tx *sql.Tx, id int64) (int64, error) {
	var found int64
	if id != 0 {
		err := tx.QueryRowContext(ctx, `SELECT id FROM folder WHERE id = ?`, id).Scan(&found)
		if err == nil {
			return found, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("lookup folder: %w", err)
		}
	}
	err := tx.QueryRowContext(ctx, `SELECT id FROM folder ORDER BY id ASC LIMIT 1`).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup first folder: %w", err)
	}
	return found, nil
}

// AttachImage links a captured drawing to a stored history record.
func (s *Store) AttachImage(ctx context.Context, historyID int64, imagePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(imagePath) == "" {
		return fmt.Errorf("image path is required")
	}
	var found int64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id FROM history WHERE id = ?`, historyID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("history %d: %w", historyID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup history: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO image (imagePath, imageName, historyId) VALUES (?, ?, ?)`,
		imagePath, filepath.Base(imagePath), historyID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("history %d: %w", historyID, ErrAlreadyAttached)
		}
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

// ListHistory returns history for folderID, or for all folders when it is 0,
// newest first.
func (s *Store) ListHistory(ctx context.Context, folderID int64) ([]HistoryRecord, error) {
	query := `SELECT h.id, h.fileId, h.date, h.maxTime, h.realTime, h.folderId,
       f.filePath, f.fileName, i.id, i.imageName, i.imagePath
FROM history h
JOIN file f ON f.id = h.fileId
LEFT JOIN image i ON i.historyId = h.id`
	var args []any
	if folderID != 0 {
		query += ` WHERE h.folderId = ?`
		args = append(args, folderID)
	}
	query += ` ORDER BY h.id DESC`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var (
			rec       HistoryRecord
			date      string
			maxTime   sql.NullInt64
			realTime  sql.NullFloat64
			folder    sql.NullInt64
			imageID   sql.NullInt64
			imageName sql.NullString
			imagePath sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.FileID, &date, &maxTime, &realTime, &folder,
			&rec.FilePath, &rec.FileName, &imageID, &imageName, &imagePath); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, date); err == nil {
			rec.Date = t
		}
		rec.MaxTime = int(maxTime.Int64)
		rec.RealTime = realTime.Float64
		rec.FolderID = folder.Int64
		rec.ImageID = imageID.Int64
		rec.ImageName = imageName.String
		rec.ImagePath = imagePath.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// ListFolders returns all folders by id.
func (s *Store) ListFolders(ctx context.Context) ([]Folder, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, folderName FROM folder ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query folders: %w", err)
	}
	defer rows.Close()

	var out []Folder
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.Name); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CreateFolder adds a folder and returns its id.
func (s *Store) CreateFolder(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("folder name is required")
	}
	res, err := s.sqlDB.ExecContext(ctx, `INSERT INTO folder (folderName) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("insert folder: %w", err)
	}
	return res.LastInsertId()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
