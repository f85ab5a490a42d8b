package history

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := NewSQLSinkFromDSN(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()
	if sink.dialect != "postgres" {
		t.Fatalf("dialect = %q, want postgres", sink.dialect)
	}

	now := time.Now().UTC()
	events := []Event{
		{Type: EventLaunch, OccurredAt: now, Server: "srv", PID: 12345},
		{Type: EventCrash, OccurredAt: now.Add(time.Second), Server: "srv", PID: 12345, Detail: "signal: killed"},
		{Type: EventRestartAttempt, OccurredAt: now.Add(2 * time.Second), Server: "srv", Reason: "crash"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %v event: %v", e.Type, err)
		}
	}

	got, err := sink.Recent(ctx, "srv", 10)
	if err != nil {
		t.Fatalf("Failed to query restart_history: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Expected 3 events in history, got %d", len(got))
	}
	if got[0].Type != EventRestartAttempt || got[0].Reason != "crash" {
		t.Errorf("newest event wrong: %+v", got[0])
	}
}
