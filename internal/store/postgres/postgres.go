package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/previewd/internal/store"
)

// DB implements store.Store on PostgreSQL via the pgx stdlib driver.
// Useful when several orchestrator hosts share one database for
// fleet-wide visibility of running previews.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS preview_snapshot(
			build_id TEXT PRIMARY KEY,
			port INTEGER NOT NULL,
			pid INTEGER NOT NULL,
			url TEXT NOT NULL,
			project_path TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_preview_snapshot_status ON preview_snapshot(status);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) SaveSnapshot(ctx context.Context, entries map[string]store.Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
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
			VALUES($1, $2, $3, $4, $5, $6, $7);`,
			e.BuildID, e.Port, e.PID, e.URL, e.ProjectPath, e.Status, e.StartedAt.UTC())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *DB) LoadSnapshot(ctx context.Context) (map[string]store.Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
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

func (p *DB) Close() error { return p.db.Close() }
