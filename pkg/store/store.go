// Package store keeps an operator-facing sqlite journal of accepted writes and
// the latest archive document of each canvas. Nothing in it is read back into
// a live canvas.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/doriantessier/pixel-war/pkg/canvas"
)

// ErrNotFound is returned by LoadArchive when a canvas has no archive yet.
var ErrNotFound = errors.New("not found")

type Store struct {
	database *sql.DB
}

// WriteRecord is one accepted pixel write.
type WriteRecord struct {
	Canvas    string
	SessionID string
	X, Y      int
	Color     canvas.Color
	WrittenAt time.Time
}

// Open opens (creating if needed) the sqlite database at path and ensures the
// tables exist.
func Open(path string) (*Store, error) {
	slog.Info("Opening database", "path", path)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	s := &Store{database: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.database.Close()
}

func (s *Store) init() error {
	if _, err := s.database.Exec(
		`CREATE TABLE IF NOT EXISTS writes (
		id integer not null primary key autoincrement,
		canvas text not null,
		session_id text not null,
		x integer not null,
		y integer not null,
		r integer not null,
		g integer not null,
		b integer not null,
		written_at integer not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create writes table: %w", err)
	}
	if _, err := s.database.Exec(
		`CREATE TABLE IF NOT EXISTS archives (
		canvas text not null primary key,
		content blob not null,
		updated_at integer not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create archives table: %w", err)
	}
	slog.Info("Ensured initial tables exist")
	return nil
}

// RecordWrite appends rec to the journal.
func (s *Store) RecordWrite(ctx context.Context, rec WriteRecord) error {
	if _, err := s.database.ExecContext(
		ctx, `INSERT INTO writes (canvas, session_id, x, y, r, g, b, written_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Canvas, rec.SessionID, rec.X, rec.Y, rec.Color.R, rec.Color.G, rec.Color.B, rec.WrittenAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to record write: %w", err)
	}
	return nil
}

// RecentWrites returns up to limit journal entries for canvasName, newest
// first.
func (s *Store) RecentWrites(ctx context.Context, canvasName string, limit int) ([]WriteRecord, error) {
	rows, err := s.database.QueryContext(
		ctx, `SELECT session_id, x, y, r, g, b, written_at FROM writes WHERE canvas = ? ORDER BY id DESC LIMIT ?`,
		canvasName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(rows)

	var out []WriteRecord
	for rows.Next() {
		var rec WriteRecord
		var r, g, b int
		var writtenAt int64
		if err := rows.Scan(&rec.SessionID, &rec.X, &rec.Y, &r, &g, &b, &writtenAt); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		if rec.Color, err = canvas.NewColor(r, g, b); err != nil {
			return nil, fmt.Errorf("corrupt journal row: %w", err)
		}
		rec.Canvas = canvasName
		rec.WrittenAt = time.Unix(0, writtenAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveArchive stores content as the archive of canvasName. It reports whether
// anything changed: identical content is not rewritten.
func (s *Store) SaveArchive(ctx context.Context, canvasName string, content []byte, at time.Time) (bool, error) {
	res, err := s.database.ExecContext(
		ctx, `INSERT INTO archives (canvas, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (canvas) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
		WHERE archives.content != excluded.content`,
		canvasName, content, at.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to save archive: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to save archive: %w", err)
	}
	return n > 0, nil
}

// LoadArchive returns the stored archive of canvasName.
func (s *Store) LoadArchive(ctx context.Context, canvasName string) ([]byte, time.Time, error) {
	var content []byte
	var updatedAt int64
	if err := s.database.QueryRowContext(
		ctx, `SELECT content, updated_at FROM archives WHERE canvas = ?`, canvasName,
	).Scan(&content, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, fmt.Errorf("archive for %q: %w", canvasName, ErrNotFound)
		}
		return nil, time.Time{}, fmt.Errorf("failed to query: %w", err)
	}
	return content, time.Unix(0, updatedAt), nil
}
