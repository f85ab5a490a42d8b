package stats

import (
	"sync"
	"time"
)

// Sample is one observation of the server process.
type Sample struct {
	Timestamp     time.Time `json:"timestamp"`
	PID           int       `json:"pid"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryMB      float64   `json:"memory_mb"`
	MemoryRSS     uint64    `json:"memory_rss"`
	NumThreads    int32     `json:"num_threads"`
	NumFDs        int32     `json:"num_fds,omitempty"` // Unix only
	Connections   int       `json:"connections"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	PortProbed    bool      `json:"port_probed"`
	PortOpen      bool      `json:"port_open"`
}

// Trend aggregates samples over a window.
type Trend struct {
	Window       time.Duration `json:"window"`
	Samples      int           `json:"samples"`
	AvgCPU       float64       `json:"avg_cpu"`
	PeakCPU      float64       `json:"peak_cpu"`
	AvgMemoryMB  float64       `json:"avg_memory_mb"`
	PeakMemoryMB float64       `json:"peak_memory_mb"`
}

// ring is a fixed-capacity circular buffer of samples with O(1) append.
type ring struct {
	mu       sync.RWMutex
	buf      []Sample
	startIdx int
	count    int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]Sample, capacity)}
}

func (r *ring) add(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count < len(r.buf) {
		r.buf[(r.startIdx+r.count)%len(r.buf)] = s
		r.count++
		return
	}
	r.buf[r.startIdx] = s
	r.startIdx = (r.startIdx + 1) % len(r.buf)
}

// snapshot returns samples in chronological order.
func (r *ring) snapshot() []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Sample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.startIdx+i)%len(r.buf)]
	}
	return out
}

func (r *ring) latest() (Sample, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return Sample{}, false
	}
	return r.buf[(r.startIdx+r.count-1)%len(r.buf)], true
}

// trendOf aggregates the samples newer than cutoff.
func trendOf(samples []Sample, window time.Duration, cutoff time.Time) Trend {
	t := Trend{Window: window}
	var sumCPU, sumMem float64
	for _, s := range samples {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		t.Samples++
		sumCPU += s.CPUPercent
		sumMem += s.MemoryMB
		if s.CPUPercent > t.PeakCPU {
			t.PeakCPU = s.CPUPercent
		}
		if s.MemoryMB > t.PeakMemoryMB {
			t.PeakMemoryMB = s.MemoryMB
		}
	}
	if t.Samples > 0 {
		t.AvgCPU = sumCPU / float64(t.Samples)
		t.AvgMemoryMB = sumMem / float64(t.Samples)
	}
	return t
}
