package store

import (
	"context"
	"time"
)

// Preview lifecycle states persisted with each snapshot entry.
const (
	StatusStarting = "starting"
	StatusReady    = "ready"
	StatusError    = "error"
)

// Entry is the lossy serialization of a tracked preview: process handles
// and timers cannot survive an orchestrator restart, so only what is
// needed for recovery (probe + reclaim) is kept.
type Entry struct {
	BuildID     string    `json:"buildId"`
	Port        int       `json:"port"`
	PID         int       `json:"pid"`
	URL         string    `json:"url"`
	ProjectPath string    `json:"projectPath"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"startTime"`
}

// Store persists the full registry snapshot after every mutating
// operation and returns it once at startup. Implementations must treat
// SaveSnapshot as a whole-state replacement, not a merge.
type Store interface {
	EnsureSchema(ctx context.Context) error
	SaveSnapshot(ctx context.Context, entries map[string]Entry) error
	LoadSnapshot(ctx context.Context) (map[string]Entry, error)
	Close() error
}
