package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSinkFromDSNEmpty(t *testing.T) {
	s, err := NewSinkFromDSN("")
	if err != nil {
		t.Fatalf("empty DSN: %v", err)
	}
	if _, ok := s.(NopSink); !ok {
		t.Fatalf("empty DSN must yield NopSink, got %T", s)
	}
	if err := s.Send(context.Background(), Event{}); err != nil {
		t.Fatalf("NopSink.Send: %v", err)
	}
}

func TestSQLiteSinkRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLSinkFromDSN(dsn)
	if err != nil {
		t.Fatalf("NewSQLSinkFromDSN: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	events := []Event{
		{Type: EventLaunch, OccurredAt: base, Server: "srv", PID: 100},
		{Type: EventCrash, OccurredAt: base.Add(time.Second), Server: "srv", PID: 100, Detail: "exit status 137"},
		{Type: EventRestartAttempt, OccurredAt: base.Add(2 * time.Second), Server: "srv", Reason: "crash"},
		{Type: EventRestartSuccess, OccurredAt: base.Add(3 * time.Second), Server: "srv", PID: 101, Reason: "crash", Outcome: "success"},
		{Type: EventLaunch, OccurredAt: base, Server: "other", PID: 7},
	}
	for _, e := range events {
		if err := s.Send(ctx, e); err != nil {
			t.Fatalf("Send(%v): %v", e.Type, err)
		}
	}

	got, err := s.Recent(ctx, "srv", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("events for srv = %d, want 4", len(got))
	}
	// Newest first.
	if got[0].Type != EventRestartSuccess || got[0].PID != 101 || got[0].Outcome != "success" {
		t.Fatalf("newest event wrong: %+v", got[0])
	}
	if got[3].Type != EventLaunch {
		t.Fatalf("oldest event wrong: %+v", got[3])
	}

	limited, err := s.Recent(ctx, "srv", 2)
	if err != nil {
		t.Fatalf("Recent limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit not applied: %d", len(limited))
	}
}

func TestSQLSinkDSNDialects(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "h.db")
	s, err := NewSQLSinkFromDSN(dsn)
	if err != nil {
		t.Fatalf("sqlite:// DSN: %v", err)
	}
	if s.dialect != "sqlite" {
		t.Fatalf("dialect = %q, want sqlite", s.dialect)
	}
	_ = s.Close()

	if _, err := NewSQLSinkFromDSN("   "); err == nil {
		t.Fatalf("blank DSN must error")
	}
}
