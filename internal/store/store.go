package store

import (
	"context"
	"time"
)

// EventType classifies a lifecycle event in the boot history.
type EventType string

const (
	EventBoot     EventType = "boot"
	EventStart    EventType = "start"
	EventStop     EventType = "stop"
	EventRespawn  EventType = "respawn"
	EventFailed   EventType = "failed"
	EventShutdown EventType = "shutdown"
)

// Event is one row of the boot/service history. Service is empty for
// system-level events (boot, shutdown).
type Event struct {
	Service string
	Type    EventType
	PID     int
	Detail  string
	At      time.Time
}

// Store persists lifecycle events. Writes are best-effort from the
// supervisor's point of view; a failing store never fails service
// management.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordEvent(ctx context.Context, ev Event) error
	// Events returns the most recent events, newest first, optionally
	// filtered by service name.
	Events(ctx context.Context, service string, limit int) ([]Event, error)
	Close() error
}
