package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/previewd/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS preview_snapshot(
			build_id TEXT PRIMARY KEY,
			port INTEGER NOT NULL,
			pid INTEGER NOT NULL,
			url TEXT NOT NULL,
			project_path TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_preview_snapshot_status ON preview_snapshot(status);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// SaveSnapshot replaces the whole snapshot in one transaction.
func (s *DB) SaveSnapshot(ctx context.Context, entries map[string]store.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM preview_snapshot;`); err != nil {
		return err
	}
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO preview_snapshot(build_id, port, pid, url, project_path, status, started_at)
			VALUES(?, ?, ?, ?, ?, ?, ?);`,
			e.BuildID, e.Port, e.PID, e.URL, e.ProjectPath, e.Status, e.StartedAt.UTC())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *DB) LoadSnapshot(ctx context.Context) (map[string]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT build_id, port, pid, url, project_path, status, started_at
		FROM preview_snapshot;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]store.Entry)
	for rows.Next() {
		var e store.Entry
		if err := rows.Scan(&e.BuildID, &e.Port, &e.PID, &e.URL, &e.ProjectPath, &e.Status, &e.StartedAt); err != nil {
			return nil, err
		}
		out[e.BuildID] = e
	}
	return out, rows.Err()
}

func (s *DB) Close() error { return s.db.Close() }
