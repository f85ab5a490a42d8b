package proc

import "time"

// Status is a point-in-time copy of the handle's view of the child.
type Status struct {
	Name          string    `json:"name"`
	Running       bool      `json:"running"`
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
	StoppedAt     time.Time `json:"stopped_at"`
	ExitErr       error     `json:"-"`
	ExitError     string    `json:"exit_error,omitempty"`
	StopRequested bool      `json:"stop_requested"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}
