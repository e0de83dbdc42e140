package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/loykin/previewd/internal/store"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// startPostgresContainer starts a PostgreSQL container for tests and
// returns a DSN suitable for pgx stdlib. It skips the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return "", nil
	}

	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	dsn = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}
	return dsn, terminate
}

func TestPostgresSnapshotRoundtrip(t *testing.T) {
	dsn, terminate := startPostgresContainer(t)
	defer terminate()

	db, err := New(dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = db.Close() }()
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	in := map[string]store.Entry{
		"b1": {
			BuildID:     "b1",
			Port:        4110,
			PID:         7,
			URL:         "http://localhost:4110",
			ProjectPath: "/work/b1",
			Status:      store.StatusReady,
			StartedAt:   time.Now().UTC().Truncate(time.Second),
		},
	}
	if err := db.SaveSnapshot(ctx, in); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	out, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(out))
	}
	got := out["b1"]
	if got.Port != 4110 || got.Status != store.StatusReady {
		t.Fatalf("unexpected entry: %+v", got)
	}

	// Replacement semantics
	if err := db.SaveSnapshot(ctx, map[string]store.Entry{}); err != nil {
		t.Fatalf("SaveSnapshot empty: %v", err)
	}
	out, err = db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot after replace: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("stale entries survived replacement: %#v", out)
	}
}
