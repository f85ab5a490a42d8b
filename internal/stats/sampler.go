package stats

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ErrProcessGone reports that there is no live child process to observe.
var ErrProcessGone = errors.New("process gone")

// Defaults for the sampling loop.
const (
	DefaultInterval     = 5 * time.Second
	DefaultProbeTimeout = 2 * time.Second

	recentWindow = 5 * time.Minute
	hourlyWindow = time.Hour
)

// Config for a Sampler.
type Config struct {
	Interval     time.Duration `mapstructure:"interval"`      // cadence SampleOnce is called at; sizes the 5m ring
	Port         int           `mapstructure:"port"`          // 0 disables the TCP probe
	ProbeHost    string        `mapstructure:"probe_host"`    // default 127.0.0.1
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

func (c Config) interval() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	return DefaultInterval
}

func (c Config) probeAddr() string {
	host := c.ProbeHost
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

func (c Config) probeTimeout() time.Duration {
	if c.ProbeTimeout > 0 {
		return c.ProbeTimeout
	}
	return DefaultProbeTimeout
}

// Sampler observes the server process identified by pidFn, one SampleOnce
// call at a time. It keeps two histories: the last five minutes at full
// resolution and the last hour downsampled to one sample per minute.
type Sampler struct {
	cfg   Config
	pidFn func() int

	mu       sync.Mutex
	proc     *gopsproc.Process // cached handle, rebuilt when the pid changes
	procPID  int
	portFail int // consecutive failed probes
	lastMin  time.Time

	recent *ring
	hourly *ring
}

// NewSampler builds a sampler. pidFn reports the current child pid (0 when
// not running) so the sampler survives restarts without rewiring.
func NewSampler(cfg Config, pidFn func() int) *Sampler {
	per5m := int(recentWindow / cfg.interval())
	if per5m < 1 {
		per5m = 1
	}
	return &Sampler{
		cfg:    cfg,
		pidFn:  pidFn,
		recent: newRing(per5m),
		hourly: newRing(int(hourlyWindow / time.Minute)),
	}
}

// SampleOnce takes one observation and records it in the histories. The
// owner's supervision tick is the only caller; the sampler never polls on
// its own, so the consecutive-failure count moves at tick resolution.
func (s *Sampler) SampleOnce(ctx context.Context) (Sample, error) {
	pid := s.pidFn()
	if pid <= 0 {
		return Sample{}, ErrProcessGone
	}

	p, err := s.procHandle(pid)
	if err != nil {
		return Sample{}, fmt.Errorf("process %d: %w", pid, err)
	}

	smp := Sample{Timestamp: time.Now(), PID: pid}

	if cpu, err := p.CPUPercent(); err == nil {
		smp.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		smp.MemoryRSS = mem.RSS
		smp.MemoryMB = float64(mem.RSS) / 1024 / 1024
	}
	if nt, err := p.NumThreads(); err == nil {
		smp.NumThreads = nt
	}
	if runtime.GOOS != "windows" {
		if fds, err := p.NumFDs(); err == nil {
			smp.NumFDs = fds
		}
	}
	if conns, err := p.Connections(); err == nil {
		smp.Connections = len(conns)
	}
	if ct, err := p.CreateTime(); err == nil && ct > 0 {
		smp.UptimeSeconds = int64(time.Since(time.UnixMilli(ct)).Seconds())
	}

	if s.cfg.Port > 0 {
		smp.PortProbed = true
		smp.PortOpen = s.probePort(ctx)
	}

	s.record(smp)
	return smp, nil
}

// probePort dials the server port; a successful connect means open.
func (s *Sampler) probePort(ctx context.Context) bool {
	d := net.Dialer{Timeout: s.cfg.probeTimeout()}
	conn, err := d.DialContext(ctx, "tcp", s.cfg.probeAddr())
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (s *Sampler) record(smp Sample) {
	s.mu.Lock()
	if smp.PortProbed {
		if smp.PortOpen {
			s.portFail = 0
		} else {
			s.portFail++
		}
	}
	min := smp.Timestamp.Truncate(time.Minute)
	newMinute := !min.Equal(s.lastMin)
	if newMinute {
		s.lastMin = min
	}
	s.mu.Unlock()

	s.recent.add(smp)
	if newMinute {
		s.hourly.add(smp)
	}
}

func (s *Sampler) procHandle(pid int) (*gopsproc.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil && s.procPID == pid {
		return s.proc, nil
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	s.proc = p
	s.procPID = pid
	return p, nil
}

// Latest returns the most recent sample.
func (s *Sampler) Latest() (Sample, bool) { return s.recent.latest() }

// Recent returns the five-minute full-resolution history, oldest first.
func (s *Sampler) Recent() []Sample { return s.recent.snapshot() }

// Hourly returns the one-hour per-minute history, oldest first.
func (s *Sampler) Hourly() []Sample { return s.hourly.snapshot() }

// ConsecutivePortFailures returns the current run of failed port probes.
func (s *Sampler) ConsecutivePortFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portFail
}

// ResetPortFailures clears the probe failure run, used after a restart.
func (s *Sampler) ResetPortFailures() {
	s.mu.Lock()
	s.portFail = 0
	s.mu.Unlock()
}

// Trend aggregates the history covering window. Windows up to five minutes
// use the full-resolution buffer, longer ones the per-minute buffer.
func (s *Sampler) Trend(window time.Duration) Trend {
	if window <= 0 {
		window = recentWindow
	}
	cutoff := time.Now().Add(-window)
	if window <= recentWindow {
		return trendOf(s.recent.snapshot(), window, cutoff)
	}
	return trendOf(s.hourly.snapshot(), window, cutoff)
}
