package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/pawsort/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS exports (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		target TEXT NOT NULL,
		root TEXT NOT NULL,
		total INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_exports_created_at ON exports(created_at);

	CREATE TABLE IF NOT EXISTS exported_files (
		export_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		bucket TEXT NOT NULL,
		source_ref TEXT NOT NULL,
		dest_key TEXT NOT NULL,
		score REAL NOT NULL,
		PRIMARY KEY (export_id, seq),
		FOREIGN KEY (export_id) REFERENCES exports(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_exported_files_source ON exported_files(source_ref);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateExport inserts an export and its files in one transaction.
func (s *SQLiteStorage) CreateExport(ctx context.Context, rec *models.ExportRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO exports (id, session_id, target, root, total, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Target, rec.Root, rec.Total, rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert export: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO exported_files (export_id, seq, bucket, source_ref, dest_key, score)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, f := range rec.Files {
		f.ExportID = rec.ID
		if _, err := stmt.ExecContext(ctx, rec.ID, i, f.Bucket, f.SourceRef, f.DestKey, f.Score); err != nil {
			return fmt.Errorf("failed to insert exported file: %w", err)
		}
	}
	return tx.Commit()
}

// GetExport returns an export by ID together with its files in export order.
func (s *SQLiteStorage) GetExport(ctx context.Context, id string) (*models.ExportRecord, error) {
	var rec models.ExportRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, target, root, total, created_at
		 FROM exports WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.SessionID, &rec.Target, &rec.Root, &rec.Total, &rec.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("export not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT export_id, bucket, source_ref, dest_key, score
		 FROM exported_files WHERE export_id = ? ORDER BY seq`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var f models.ExportedFile
		if err := rows.Scan(&f.ExportID, &f.Bucket, &f.SourceRef, &f.DestKey, &f.Score); err != nil {
			return nil, err
		}
		rec.Files = append(rec.Files, &f)
	}
	return &rec, rows.Err()
}

// ListExports returns exports, newest first, without their files.
func (s *SQLiteStorage) ListExports(ctx context.Context, offset, limit int) ([]*models.ExportRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, target, root, total, created_at
		 FROM exports ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.ExportRecord
	for rows.Next() {
		var rec models.ExportRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Target, &rec.Root, &rec.Total, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// DeleteExport removes an export. Its files go with it.
func (s *SQLiteStorage) DeleteExport(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exports WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("export not found: %s", id)
	}
	return nil
}

// CountExports returns the total number of exports.
func (s *SQLiteStorage) CountExports(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exports`).Scan(&count)
	return count, err
}

// CountExportedFiles returns the number of files across all exports.
func (s *SQLiteStorage) CountExportedFiles(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exported_files`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
