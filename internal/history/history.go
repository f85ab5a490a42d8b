package history

import (
	"context"
	"strings"
	"time"
)

// EventType defines the kind of supervision event.
type EventType string

const (
	EventLaunch         EventType = "launch"
	EventStop           EventType = "stop"
	EventCrash          EventType = "crash"
	EventRestartAttempt EventType = "restart_attempt"
	EventRestartSuccess EventType = "restart_success"
	EventRestartFailed  EventType = "restart_failed"
	EventBackup         EventType = "backup"
	EventFailed         EventType = "failed" // watchdog entered terminal Failed
)

// Event is one audit entry exported to external systems. The in-memory
// restart policy is authoritative for windowing; sinks are append-only audit.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Server     string    `json:"server"`
	PID        int       `json:"pid"`
	Reason     string    `json:"reason,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for supervision events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// NewSinkFromDSN selects a sink by DSN scheme:
//
//	clickhouse://host:9000      -> ClickHouse
//	postgres://... / postgresql://... -> Postgres via pgx
//	sqlite:///path or plain path -> SQLite
//
// An empty DSN yields a no-op sink.
func NewSinkFromDSN(dsn string) (Sink, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return NopSink{}, nil
	}
	if strings.HasPrefix(strings.ToLower(d), "clickhouse://") {
		return NewClickHouseSink(strings.TrimPrefix(d, "clickhouse://"), "restart_history")
	}
	return NewSQLSinkFromDSN(d)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Send(context.Context, Event) error { return nil }
func (NopSink) Close() error                      { return nil }
