package history

import (
	"context"
	"time"
)

// EventType classifies a lifecycle event.
type EventType string

const (
	EventStart     EventType = "start"
	EventReady     EventType = "ready"
	EventUnhealthy EventType = "unhealthy"
	EventRecovered EventType = "recovered"
	EventStopped   EventType = "stopped"
	EventCrashed   EventType = "crashed"
	EventRestart   EventType = "restart"
)

// Record is the snapshot attached to an event.
type Record struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is one lifecycle event exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for lifecycle events (audit/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
