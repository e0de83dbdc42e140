package factory

import (
	"errors"
	"strings"

	"github.com/loykin/previewd/internal/store"
	"github.com/loykin/previewd/internal/store/jsonfile"
	pg "github.com/loykin/previewd/internal/store/postgres"
	sq "github.com/loykin/previewd/internal/store/sqlite"
)

// NewFromDSN selects a snapshot store implementation based on DSN.
// Supported:
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - sqlite:   "sqlite://<path>" or a bare path ending in ".db"
//   - json:     "file://<path>" or any other bare filepath (default)
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(strings.TrimPrefix(d, "sqlite://"))
	}
	if strings.HasPrefix(ld, "file://") {
		return jsonfile.New(strings.TrimPrefix(d, "file://"))
	}
	if strings.HasSuffix(ld, ".db") {
		return sq.New(d)
	}
	// default to the JSON snapshot file
	return jsonfile.New(d)
}
