package jsonfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/previewd/internal/store"
)

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "previews.json")
	f, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := f.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	in := map[string]store.Entry{
		"b1": {
			BuildID:     "b1",
			Port:        4110,
			PID:         1234,
			URL:         "http://localhost:4110",
			ProjectPath: "/tmp/b1",
			Status:      store.StatusReady,
			StartedAt:   time.Now().UTC().Truncate(time.Second),
		},
	}
	if err := f.SaveSnapshot(ctx, in); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	out, err := f.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(out) != 1 || out["b1"] != in["b1"] {
		t.Fatalf("roundtrip mismatch: %#v vs %#v", out, in)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	f, err := New(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := f.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty snapshot, got %#v", out)
	}
}

func TestSaveIsWholeStateReplacement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "previews.json")
	f, _ := New(path)
	ctx := context.Background()
	_ = f.SaveSnapshot(ctx, map[string]store.Entry{"b1": {BuildID: "b1"}, "b2": {BuildID: "b2"}})
	_ = f.SaveSnapshot(ctx, map[string]store.Entry{"b2": {BuildID: "b2"}})
	out, err := f.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("stale entries survived replacement: %#v", out)
	}
}

func TestFileFormatIsBuildKeyedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "previews.json")
	f, _ := New(path)
	_ = f.SaveSnapshot(context.Background(), map[string]store.Entry{"b7": {BuildID: "b7", Port: 4200}})
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("snapshot is not a JSON object: %v", err)
	}
	if _, ok := m["b7"]; !ok {
		t.Fatalf("snapshot not keyed by build id: %s", string(b))
	}
	if m["b7"]["port"].(float64) != 4200 {
		t.Fatalf("unexpected port field: %s", string(b))
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
