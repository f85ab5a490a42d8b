package client

import "time"

// Snapshot mirrors the daemon's /status payload.
type Snapshot struct {
	Server           string     `json:"server"`
	State            string     `json:"state"`
	Running          bool       `json:"running"`
	PID              int        `json:"pid,omitempty"`
	UptimeSeconds    int64      `json:"uptime_seconds,omitempty"`
	Health           Health     `json:"health"`
	LastSample       *Sample    `json:"last_sample,omitempty"`
	Checks           uint64     `json:"checks"`
	RestartsInWindow int        `json:"restarts_in_window"`
	CooldownUntil    *time.Time `json:"cooldown_until,omitempty"`
	LastBackup       string     `json:"last_backup,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
}

// Health mirrors the scored verdict inside a snapshot.
type Health struct {
	Score   int      `json:"score"`
	State   string   `json:"state"`
	Reasons []string `json:"reasons,omitempty"`
}

// Sample mirrors one resource observation.
type Sample struct {
	Timestamp     time.Time `json:"timestamp"`
	PID           int       `json:"pid"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryMB      float64   `json:"memory_mb"`
	NumThreads    int32     `json:"num_threads"`
	Connections   int       `json:"connections"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	PortProbed    bool      `json:"port_probed"`
	PortOpen      bool      `json:"port_open"`
}

// BackupSnapshot mirrors one archived world snapshot.
type BackupSnapshot struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Event mirrors one history entry.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Server     string    `json:"server"`
	PID        int       `json:"pid,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// ErrorResponse represents an API error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
