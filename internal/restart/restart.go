package restart

import (
	"errors"
	"sync"
	"time"
)

// ErrLimitExceeded is returned when the sliding window has no attempts left.
var ErrLimitExceeded = errors.New("restart limit exceeded")

// Outcome of one restart attempt.
type Outcome string

const (
	OutcomeAttempted Outcome = "attempted"
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
)

// Record is one append-only restart history entry.
type Record struct {
	Timestamp       time.Time     `json:"timestamp"`
	Reason          string        `json:"reason"`
	Outcome         Outcome       `json:"outcome"`
	CooldownApplied time.Duration `json:"cooldown_applied"`
}

// Policy limits restart attempts with a sliding window count and an
// independent inter-attempt cooldown. The window cap lets the server recover
// credit after sustained stability; the cooldown prevents rapid-fire loops
// inside a single window slot. Safe for concurrent use.
type Policy struct {
	mu          sync.Mutex
	maxRestarts int
	window      time.Duration
	cooldown    time.Duration
	records     []Record
}

// NewPolicy builds a policy. maxRestarts attempts are allowed per window,
// with at least cooldown between consecutive attempts.
func NewPolicy(maxRestarts int, window, cooldown time.Duration) *Policy {
	return &Policy{maxRestarts: maxRestarts, window: window, cooldown: cooldown}
}

// CanRestart reports whether an attempt at now is permitted: strictly fewer
// than maxRestarts attempts inside [now-window, now], and at least cooldown
// since the last attempt.
func (p *Policy) CanRestart(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attemptsInWindowLocked(now) >= p.maxRestarts {
		return false
	}
	if last, ok := p.lastAttemptLocked(); ok && now.Sub(last) < p.cooldown {
		return false
	}
	return true
}

// Check is CanRestart returning ErrLimitExceeded for callers that propagate errors.
func (p *Policy) Check(now time.Time) error {
	if !p.CanRestart(now) {
		return ErrLimitExceeded
	}
	return nil
}

// RecordAttempt appends a record before the attempt is made, so a crash
// during the restart itself still counts against the window.
func (p *Policy) RecordAttempt(now time.Time, reason string) Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := Record{Timestamp: now, Reason: reason, Outcome: OutcomeAttempted, CooldownApplied: p.cooldown}
	p.records = append(p.records, rec)
	return rec
}

// RecordOutcome updates the most recent record's outcome.
func (p *Policy) RecordOutcome(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.records) == 0 {
		return
	}
	if success {
		p.records[len(p.records)-1].Outcome = OutcomeSuccess
	} else {
		p.records[len(p.records)-1].Outcome = OutcomeFailed
	}
}

// AttemptsInWindow counts attempts inside [now-window, now].
func (p *Policy) AttemptsInWindow(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attemptsInWindowLocked(now)
}

// Records returns a copy of the full history, oldest first.
func (p *Policy) Records() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Record, len(p.records))
	copy(out, p.records)
	return out
}

// Reset clears the history; the operator escape hatch out of Failed.
func (p *Policy) Reset() {
	p.mu.Lock()
	p.records = nil
	p.mu.Unlock()
}

// Cooldown returns the configured inter-attempt delay.
func (p *Policy) Cooldown() time.Duration {
	return p.cooldown
}

func (p *Policy) attemptsInWindowLocked(now time.Time) int {
	cutoff := now.Add(-p.window)
	n := 0
	for i := len(p.records) - 1; i >= 0; i-- {
		if p.records[i].Timestamp.Before(cutoff) {
			break
		}
		n++
	}
	return n
}

func (p *Policy) lastAttemptLocked() (time.Time, bool) {
	if len(p.records) == 0 {
		return time.Time{}, false
	}
	return p.records[len(p.records)-1].Timestamp, true
}
