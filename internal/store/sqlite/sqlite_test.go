package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/previewd/internal/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "previews.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return db
}

func TestSaveLoadRoundtrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	in := map[string]store.Entry{
		"b1": {
			BuildID:     "b1",
			Port:        4110,
			PID:         42,
			URL:         "http://localhost:4110",
			ProjectPath: "/work/b1",
			Status:      store.StatusStarting,
			StartedAt:   time.Now().UTC().Truncate(time.Second),
		},
		"b2": {
			BuildID:     "b2",
			Port:        4111,
			PID:         43,
			URL:         "http://localhost:4111",
			ProjectPath: "/work/b2",
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
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out))
	}
	for id, want := range in {
		got := out[id]
		if got.Port != want.Port || got.Status != want.Status || got.URL != want.URL {
			t.Fatalf("entry %s mismatch: %+v vs %+v", id, got, want)
		}
		if !got.StartedAt.Equal(want.StartedAt) {
			t.Fatalf("entry %s time mismatch: %v vs %v", id, got.StartedAt, want.StartedAt)
		}
	}
}

func TestSnapshotReplacement(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_ = db.SaveSnapshot(ctx, map[string]store.Entry{
		"b1": {BuildID: "b1", Port: 4110, StartedAt: time.Now()},
		"b2": {BuildID: "b2", Port: 4111, StartedAt: time.Now()},
	})
	if err := db.SaveSnapshot(ctx, map[string]store.Entry{}); err != nil {
		t.Fatalf("SaveSnapshot empty: %v", err)
	}
	out, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("stale entries survived replacement: %#v", out)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
