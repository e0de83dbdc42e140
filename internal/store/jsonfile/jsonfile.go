package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/previewd/internal/store"
)

// File implements store.Store as a single JSON object keyed by build id,
// written atomically via a temp file and rename. This is the default
// snapshot backend: human-inspectable and dependency-free at runtime.
type File struct {
	path string
}

// New creates a JSON file store at path. The parent directory is created
// lazily on first save.
func New(path string) (*File, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty snapshot path")
	}
	return &File{path: p}, nil
}

func (f *File) EnsureSchema(_ context.Context) error {
	return os.MkdirAll(filepath.Dir(f.path), 0o750)
}

func (f *File) SaveSnapshot(_ context.Context, entries map[string]store.Entry) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return err
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *File) LoadSnapshot(_ context.Context) (map[string]store.Entry, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]store.Entry{}, nil
		}
		return nil, err
	}
	out := make(map[string]store.Entry)
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *File) Close() error { return nil }
