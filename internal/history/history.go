package history

import (
	"context"
	"time"
)

// EventType defines the kind of preview lifecycle event.
type EventType string

const (
	EventStarted   EventType = "started"
	EventReady     EventType = "ready"
	EventStopped   EventType = "stopped"
	EventFailed    EventType = "failed"
	EventReclaimed EventType = "reclaimed"
)

// Reclaim reasons carried on EventReclaimed.
const (
	ReasonIdle      = "idle"
	ReasonUnhealthy = "unhealthy"
	ReasonRecovery  = "recovery"
)

// Event represents a preview lifecycle event to be exported to external
// systems (analytics/statistics).
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	BuildID    string    `json:"build_id"`
	UserID     string    `json:"user_id,omitempty"`
	Port       int       `json:"port,omitempty"`
	PID        int       `json:"pid,omitempty"`
	URL        string    `json:"url,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retry_count,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
