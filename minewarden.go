// Package minewarden supervises a single game server process: launch,
// health scoring, bounded automatic restarts, world snapshots before every
// restart and planned stop,
// and an HTTP control surface.
package minewarden

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/minewarden/minewarden/internal/backup"
	cfg "github.com/minewarden/minewarden/internal/config"
	"github.com/minewarden/minewarden/internal/health"
	"github.com/minewarden/minewarden/internal/history"
	"github.com/minewarden/minewarden/internal/metrics"
	"github.com/minewarden/minewarden/internal/proc"
	"github.com/minewarden/minewarden/internal/restart"
	iapi "github.com/minewarden/minewarden/internal/server"
	"github.com/minewarden/minewarden/internal/stats"
	"github.com/minewarden/minewarden/internal/watchdog"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = proc.Spec

type Status = proc.Status

type Snapshot = watchdog.Snapshot

type Sample = stats.Sample

type Verdict = health.Verdict

type Config = cfg.FileConfig

type HistorySink = history.Sink

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Supervisor assembles the full supervision stack for one server from a
// loaded config: process handle, sampler, restart policy, watchdog, backup
// manager and history sink.
type Supervisor struct {
	cfg     *Config
	handle  *proc.Handle
	sampler *stats.Sampler
	policy  *restart.Policy
	wd      *watchdog.Watchdog
	backups *backup.Manager
	sink    history.Sink
	log     *slog.Logger

	cancel context.CancelFunc
}

// NewSupervisor wires the stack and, when backups are configured, starts the
// periodic backup loop. Sampling happens on the watchdog's check ticks; there
// is no second polling loop. The server itself is not launched until Start.
func NewSupervisor(c *Config) (*Supervisor, error) {
	log := c.LoggerConfig().NewSlogger()

	handle := proc.NewHandle(c.ProcSpec())
	sampler := stats.NewSampler(c.StatsConfig(), handle.PID)
	policy := restart.NewPolicy(c.Watchdog.MaxRestarts, c.Watchdog.RestartWindow, c.Watchdog.RestartCooldown)

	wd := watchdog.New(watchdog.Config{
		Server:         c.Server.Name,
		CheckInterval:  c.Watchdog.CheckInterval,
		MaxRestarts:    c.Watchdog.MaxRestarts,
		RestartOnCrash: c.Watchdog.RestartOnCrashEnabled(),
		Thresholds:     c.Thresholds(),
	}, handle, sampler, policy)
	wd.SetLogger(log)

	s := &Supervisor{
		cfg:     c,
		handle:  handle,
		sampler: sampler,
		policy:  policy,
		wd:      wd,
		log:     log,
	}

	if bc := c.BackupManagerConfig(); bc != nil {
		mgr, err := backup.NewManager(*bc)
		if err != nil {
			_ = wd.Shutdown()
			return nil, err
		}
		s.backups = mgr
		wd.SetBackupHook(func(ctx context.Context, reason string) error {
			_, err := mgr.CreateSnapshot(ctx, reason)
			return err
		})
	}

	sink, err := history.NewSinkFromDSN(c.History.DSN)
	if err != nil {
		_ = wd.Shutdown()
		return nil, err
	}
	s.sink = sink
	wd.SetHistory(sink)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if s.backups != nil && c.Backup.Interval > 0 {
		go s.runPeriodicBackups(ctx, c.Backup.Interval)
	}
	return s, nil
}

// runPeriodicBackups snapshots the world at the configured interval while
// the server is running.
func (s *Supervisor) runPeriodicBackups(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.handle.Alive() {
				continue
			}
			if _, err := s.backups.CreateSnapshot(ctx, "scheduled"); err != nil {
				s.log.Warn("scheduled backup failed", "error", err)
				metrics.IncBackup(s.cfg.Server.Name, "failed")
			} else {
				metrics.IncBackup(s.cfg.Server.Name, "success")
			}
		}
	}
}

// Start launches the server and begins monitoring.
func (s *Supervisor) Start() error { return s.wd.Start() }

// Stop shuts the server down gracefully. When backups are configured, the
// watchdog snapshots the world first, while the server can still flush it.
func (s *Supervisor) Stop(wait time.Duration) error { return s.wd.Stop(wait) }

// Restart forces an operator restart.
func (s *Supervisor) Restart() error { return s.wd.Restart() }

// Reset clears the restart budget and leaves a Failed state.
func (s *Supervisor) Reset() error { return s.wd.Reset() }

// SendCommand forwards a console command to the server.
func (s *Supervisor) SendCommand(cmd string) error { return s.wd.SendCommand(cmd) }

// Status returns the current supervision snapshot.
func (s *Supervisor) Status() Snapshot { return s.wd.Snapshot() }

// Watchdog exposes the underlying state machine, mainly for the HTTP layer.
func (s *Supervisor) Watchdog() *watchdog.Watchdog { return s.wd }

// Backups returns the snapshot manager, or nil when backups are disabled.
func (s *Supervisor) Backups() *backup.Manager { return s.backups }

// Logger returns the configured daemon logger.
func (s *Supervisor) Logger() *slog.Logger { return s.log }

// Close stops the server and tears the stack down.
func (s *Supervisor) Close() error {
	err := s.wd.Shutdown()
	s.cancel()
	if s.sink != nil {
		_ = s.sink.Close()
	}
	return err
}

// NewHTTPServer starts the control API on addr for this supervisor.
func (s *Supervisor) NewHTTPServer(addr, basePath string) *http.Server {
	r := iapi.NewRouter(s.wd, s.cfg.Server.Name, basePath)
	r.SetBackups(s.backups)
	if reader, ok := s.sink.(*history.SQLSink); ok {
		r.SetHistory(reader)
	}
	return iapi.NewServer(addr, r)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It blocks in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
