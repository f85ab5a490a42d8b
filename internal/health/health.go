package health

import (
	"github.com/minewarden/minewarden/internal/stats"
)

// State is the liveness verdict for the supervised server.
type State string

const (
	StateAlive    State = "alive"
	StateDegraded State = "degraded"
	StateDead     State = "dead"
)

// Verdict thresholds.
const (
	aliveFloor = 70
	deadCeil   = 30

	// penalty weights; port-closed dominates
	portPenalty      = 60.0
	cpuPenaltyMax    = 30.0
	memoryPenaltyMax = 30.0
)

// Reason tags attached to a verdict.
const (
	ReasonPortClosed = "port_closed"
	ReasonPortDead   = "port_dead" // two consecutive failed probes
	ReasonCPUHigh    = "cpu_high"
	ReasonMemoryHigh = "memory_high"
)

// Thresholds configures the scoring model.
type Thresholds struct {
	// CPUHighWater is the sustained CPU percentage above which penalties
	// accrue, judged against the five-minute average.
	CPUHighWater float64 `mapstructure:"cpu_high_water"`
	// MemoryMaxMB is the configured memory ceiling (the -Xmx budget).
	// Penalties accrue as usage approaches it.
	MemoryMaxMB float64 `mapstructure:"memory_max_mb"`
	// MemoryHighFraction of MemoryMaxMB where penalties start, default 0.8.
	MemoryHighFraction float64 `mapstructure:"memory_high_fraction"`
}

// DefaultThresholds mirror a typical 4G server allocation.
func DefaultThresholds() Thresholds {
	return Thresholds{CPUHighWater: 85, MemoryMaxMB: 4096, MemoryHighFraction: 0.8}
}

func (t Thresholds) memoryHighFraction() float64 {
	if t.MemoryHighFraction > 0 && t.MemoryHighFraction < 1 {
		return t.MemoryHighFraction
	}
	return 0.8
}

// Verdict is the scored liveness decision.
type Verdict struct {
	Score   int      `json:"score"` // 0..100
	State   State    `json:"state"`
	Reasons []string `json:"reasons,omitempty"`
}

// Score is a pure function of one sample, the five-minute trend, and the run
// of consecutive failed port probes. Starting from 100, it subtracts the
// port-closed penalty first (the probable-dead signal), then proportional
// penalties for sustained CPU over the high-water mark and for memory
// approaching the configured ceiling. The score is floored at zero.
//
// Two consecutive failed probes force a dead verdict regardless of score;
// a single failed probe alone only degrades, so one transient probe miss
// never triggers a restart.
func Score(sample stats.Sample, trend5m stats.Trend, consecutivePortFailures int, th Thresholds) Verdict {
	score := 100.0
	var reasons []string

	if sample.PortProbed && !sample.PortOpen {
		score -= portPenalty
		reasons = append(reasons, ReasonPortClosed)
	}

	if th.CPUHighWater > 0 && th.CPUHighWater < 100 && trend5m.Samples > 0 {
		if over := trend5m.AvgCPU - th.CPUHighWater; over > 0 {
			p := over / (100 - th.CPUHighWater) * cpuPenaltyMax
			if p > cpuPenaltyMax {
				p = cpuPenaltyMax
			}
			score -= p
			reasons = append(reasons, ReasonCPUHigh)
		}
	}

	if th.MemoryMaxMB > 0 {
		frac := sample.MemoryMB / th.MemoryMaxMB
		high := th.memoryHighFraction()
		if frac > high {
			p := (frac - high) / (1 - high) * memoryPenaltyMax
			if p > memoryPenaltyMax {
				p = memoryPenaltyMax
			}
			score -= p
			reasons = append(reasons, ReasonMemoryHigh)
		}
	}

	if score < 0 {
		score = 0
	}

	v := Verdict{Score: int(score), Reasons: reasons}
	switch {
	case consecutivePortFailures >= 2:
		v.State = StateDead
		v.Reasons = append(v.Reasons, ReasonPortDead)
	case v.Score < deadCeil:
		v.State = StateDead
	case v.Score < aliveFloor:
		v.State = StateDegraded
	default:
		v.State = StateAlive
	}
	return v
}
