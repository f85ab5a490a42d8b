package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minewarden/minewarden/internal/health"
	"github.com/minewarden/minewarden/internal/history"
	"github.com/minewarden/minewarden/internal/metrics"
	"github.com/minewarden/minewarden/internal/proc"
	"github.com/minewarden/minewarden/internal/restart"
	"github.com/minewarden/minewarden/internal/stats"
)

// Watchdog drives the supervision loop for one game server as a single
// goroutine state machine. External calls are serialized through a command
// channel so every decision happens at a well-defined point, never mid-tick.
//
// State Machine:
// Stopped -> Monitoring -> Restarting -> Monitoring
//
//	Monitoring -> CoolingDown -> Monitoring
//	Restarting -> CoolingDown | Failed
//
// Failed is terminal until an operator Reset.
type Watchdog struct {
	cfg     Config
	handle  Process
	sampler Sampler
	policy  *restart.Policy

	hook BackupHook
	sink history.Sink
	log  *slog.Logger

	cmdChan  chan command
	doneChan chan struct{}

	mu            sync.RWMutex
	state         State
	lastVerdict   health.Verdict
	lastSample    stats.Sample
	haveSample    bool
	lastBackup    string
	lastErr       string
	cooldownUntil time.Time
	checks        uint64
}

// State of the supervision loop.
type State string

const (
	StateStopped     State = "stopped"
	StateMonitoring  State = "monitoring"
	StateRestarting  State = "restarting"
	StateCoolingDown State = "cooling_down"
	StateFailed      State = "failed"
)

// Process is the slice of proc.Handle the watchdog needs.
type Process interface {
	Launch(ctx context.Context) error
	Stop(ctx context.Context) error
	Kill() error
	SendCommand(cmd string) error
	Alive() bool
	PID() int
	StopRequested() bool
	Snapshot() proc.Status
}

// Sampler is the slice of stats.Sampler the watchdog needs.
type Sampler interface {
	SampleOnce(ctx context.Context) (stats.Sample, error)
	Trend(window time.Duration) stats.Trend
	ConsecutivePortFailures() int
	ResetPortFailures()
}

// BackupHook snapshots the world before restarts and planned stops; reason
// names the trigger ("crash", "unhealthy", "operator", "stop", "shutdown").
// It runs under a bounded context; an error is logged and recorded but never
// blocks the restart or stop it precedes.
type BackupHook func(ctx context.Context, reason string) error

// Config for a Watchdog.
type Config struct {
	Server         string
	CheckInterval  time.Duration
	MaxRestarts    int
	RestartOnCrash bool
	BackupTimeout  time.Duration
	Thresholds     health.Thresholds
}

const (
	DefaultCheckInterval = 30 * time.Second
	DefaultBackupTimeout = 2 * time.Minute

	launchTimeout = 30 * time.Second
	trendWindow   = 5 * time.Minute
)

func (c Config) checkInterval() time.Duration {
	if c.CheckInterval > 0 {
		return c.CheckInterval
	}
	return DefaultCheckInterval
}

func (c Config) backupTimeout() time.Duration {
	if c.BackupTimeout > 0 {
		return c.BackupTimeout
	}
	return DefaultBackupTimeout
}

type command struct {
	action  commandAction
	arg     string
	timeout time.Duration
	reply   chan error
}

type commandAction int

const (
	actionStart commandAction = iota
	actionStop
	actionRestart
	actionReset
	actionSend
	actionShutdown
)

// New builds a watchdog and starts its state machine goroutine. The child is
// not launched until Start is called.
func New(cfg Config, handle Process, sampler Sampler, policy *restart.Policy) *Watchdog {
	w := &Watchdog{
		cfg:      cfg,
		handle:   handle,
		sampler:  sampler,
		policy:   policy,
		sink:     history.NopSink{},
		log:      slog.Default(),
		cmdChan:  make(chan command, 16),
		doneChan: make(chan struct{}),
		state:    StateStopped,
	}
	go w.run()
	return w
}

// SetBackupHook installs the snapshot hook run before restarts and stops.
func (w *Watchdog) SetBackupHook(hook BackupHook) {
	w.mu.Lock()
	w.hook = hook
	w.mu.Unlock()
}

// SetHistory installs the audit event sink.
func (w *Watchdog) SetHistory(sink history.Sink) {
	w.mu.Lock()
	if sink == nil {
		sink = history.NopSink{}
	}
	w.sink = sink
	w.mu.Unlock()
}

// SetLogger replaces the default logger.
func (w *Watchdog) SetLogger(log *slog.Logger) {
	w.mu.Lock()
	w.log = log
	w.mu.Unlock()
}

// Start launches the server and begins monitoring.
func (w *Watchdog) Start() error { return w.send(command{action: actionStart}) }

// Stop shuts the server down gracefully and stops monitoring.
func (w *Watchdog) Stop(timeout time.Duration) error {
	return w.send(command{action: actionStop, timeout: timeout})
}

// Restart forces an operator restart. It records the attempt but bypasses
// the sliding-window limit: the policy guards against automatic crash loops,
// not against an operator who asked explicitly.
func (w *Watchdog) Restart() error { return w.send(command{action: actionRestart}) }

// Reset clears the restart budget and leaves the Failed state.
func (w *Watchdog) Reset() error { return w.send(command{action: actionReset}) }

// SendCommand forwards a console command to the child.
func (w *Watchdog) SendCommand(cmd string) error {
	return w.send(command{action: actionSend, arg: cmd})
}

// Shutdown stops the child (graceful) and terminates the state machine.
func (w *Watchdog) Shutdown() error { return w.send(command{action: actionShutdown}) }

// Done is closed when the state machine goroutine has exited.
func (w *Watchdog) Done() <-chan struct{} { return w.doneChan }

func (w *Watchdog) send(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case w.cmdChan <- cmd:
		return <-cmd.reply
	case <-w.doneChan:
		return fmt.Errorf("watchdog shut down")
	}
}

// State returns the current state.
func (w *Watchdog) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Snapshot is the point-in-time view served to the status API.
type Snapshot struct {
	Server           string         `json:"server"`
	State            State          `json:"state"`
	Running          bool           `json:"running"`
	PID              int            `json:"pid,omitempty"`
	UptimeSeconds    int64          `json:"uptime_seconds,omitempty"`
	Health           health.Verdict `json:"health"`
	LastSample       *stats.Sample  `json:"last_sample,omitempty"`
	Checks           uint64         `json:"checks"`
	RestartsInWindow int            `json:"restarts_in_window"`
	CooldownUntil    *time.Time     `json:"cooldown_until,omitempty"`
	LastBackup       string         `json:"last_backup,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
}

// Snapshot assembles the current view without going through the command
// channel, so status stays cheap even mid-restart.
func (w *Watchdog) Snapshot() Snapshot {
	st := w.handle.Snapshot()

	w.mu.RLock()
	snap := Snapshot{
		Server:           w.cfg.Server,
		State:            w.state,
		Running:          st.Running,
		PID:              st.PID,
		UptimeSeconds:    st.UptimeSeconds,
		Health:           w.lastVerdict,
		Checks:           w.checks,
		RestartsInWindow: w.policy.AttemptsInWindow(time.Now()),
		LastBackup:       w.lastBackup,
		LastError:        w.lastErr,
	}
	if w.haveSample {
		s := w.lastSample
		snap.LastSample = &s
	}
	if w.state == StateCoolingDown && !w.cooldownUntil.IsZero() {
		t := w.cooldownUntil
		snap.CooldownUntil = &t
	}
	w.mu.RUnlock()

	if !st.Running {
		snap.PID = 0
	}
	return snap
}

// run is the single state machine goroutine. Commands and ticks interleave
// here and nowhere else; a failure inside one tick never ends the loop.
func (w *Watchdog) run() {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.cfg.checkInterval())
	defer ticker.Stop()

	for {
		select {
		case cmd := <-w.cmdChan:
			if w.handleCommand(cmd) {
				return
			}
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watchdog) handleCommand(cmd command) (shutdown bool) {
	var err error
	switch cmd.action {
	case actionStart:
		err = w.handleStart()
	case actionStop:
		err = w.handleStop(cmd.timeout)
	case actionRestart:
		err = w.handleForceRestart()
	case actionReset:
		err = w.handleReset()
	case actionSend:
		err = w.handle.SendCommand(cmd.arg)
	case actionShutdown:
		err = w.handleShutdown()
		shutdown = true
	}
	if cmd.reply != nil {
		cmd.reply <- err
	}
	return shutdown
}

func (w *Watchdog) handleStart() error {
	switch w.State() {
	case StateStopped:
	case StateFailed:
		return fmt.Errorf("watchdog failed, reset required before start")
	default:
		return proc.ErrAlreadyRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), launchTimeout)
	defer cancel()
	if err := w.handle.Launch(ctx); err != nil {
		return err
	}
	w.setState(StateMonitoring)
	w.sampler.ResetPortFailures()
	w.emit(history.EventLaunch, "operator", "", "")
	return nil
}

func (w *Watchdog) handleStop(timeout time.Duration) error {
	switch w.State() {
	case StateStopped, StateFailed:
		return proc.ErrNotRunning
	}

	// Snapshot while the world is still flushable, then stop.
	w.runBackupHook("stop")

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := w.handle.Stop(ctx)
	w.setState(StateStopped)
	w.emit(history.EventStop, "operator", "", errDetail(err))
	return err
}

// handleForceRestart stops (or kills) the child and relaunches it. The
// attempt is recorded so it shows in history, but the window limit is not
// consulted.
func (w *Watchdog) handleForceRestart() error {
	switch w.State() {
	case StateFailed:
		return fmt.Errorf("watchdog failed, reset required before restart")
	case StateRestarting:
		return fmt.Errorf("restart already in progress")
	}

	if w.handle.Alive() {
		ctx, cancel := context.WithTimeout(context.Background(), launchTimeout)
		err := w.handle.Stop(ctx)
		cancel()
		if err != nil && err != proc.ErrStopTimedOut && err != proc.ErrNotRunning {
			return err
		}
	}
	return w.doRestart("operator", time.Now(), false)
}

func (w *Watchdog) handleReset() error {
	w.policy.Reset()
	w.mu.Lock()
	w.lastErr = ""
	w.mu.Unlock()
	if w.State() == StateFailed {
		if w.handle.Alive() {
			w.setState(StateMonitoring)
		} else {
			w.setState(StateStopped)
		}
	}
	w.log.Info("restart budget reset", "server", w.cfg.Server)
	return nil
}

func (w *Watchdog) handleShutdown() error {
	if w.handle.Alive() {
		w.runBackupHook("shutdown")
		ctx, cancel := context.WithTimeout(context.Background(), launchTimeout)
		defer cancel()
		err := w.handle.Stop(ctx)
		w.setState(StateStopped)
		w.emit(history.EventStop, "shutdown", "", errDetail(err))
		if err != nil && err != proc.ErrStopTimedOut {
			return err
		}
		return nil
	}
	w.setState(StateStopped)
	return nil
}

// tick runs one supervision cycle. Only Monitoring and CoolingDown react;
// Stopped and Failed wait for operator commands.
func (w *Watchdog) tick() {
	switch w.State() {
	case StateMonitoring:
		w.tickMonitoring()
	case StateCoolingDown:
		w.tickCoolingDown()
	}
}

func (w *Watchdog) tickMonitoring() {
	now := time.Now()
	w.mu.Lock()
	w.checks++
	w.mu.Unlock()
	metrics.IncCheck(w.cfg.Server)

	if !w.handle.Alive() {
		if w.handle.StopRequested() {
			// Planned stop observed from the outside; nothing to revive.
			w.setState(StateStopped)
			return
		}
		st := w.handle.Snapshot()
		w.log.Warn("server process exited unexpectedly",
			"server", w.cfg.Server, "exit", st.ExitError)
		w.emit(history.EventCrash, "", "", st.ExitError)
		if !w.cfg.RestartOnCrash {
			w.setState(StateStopped)
			return
		}
		w.requestRestart("crash", now)
		return
	}

	sample, err := w.sampler.SampleOnce(context.Background())
	if err != nil {
		// Sampling trouble is not evidence of death; try again next tick.
		w.log.Debug("sample failed", "server", w.cfg.Server, "error", err)
		return
	}

	verdict := health.Score(sample, w.sampler.Trend(trendWindow),
		w.sampler.ConsecutivePortFailures(), w.cfg.Thresholds)

	w.mu.Lock()
	w.lastSample = sample
	w.haveSample = true
	w.lastVerdict = verdict
	w.mu.Unlock()

	metrics.SetHealthScore(w.cfg.Server, verdict.Score)
	metrics.SetResourceUsage(w.cfg.Server, sample.CPUPercent, sample.MemoryMB)
	metrics.SetPortOpen(w.cfg.Server, !sample.PortProbed || sample.PortOpen)

	switch verdict.State {
	case health.StateDead:
		w.log.Warn("health verdict dead",
			"server", w.cfg.Server, "score", verdict.Score, "reasons", verdict.Reasons)
		w.requestRestart("unhealthy", now)
	case health.StateDegraded:
		w.log.Warn("health degraded",
			"server", w.cfg.Server, "score", verdict.Score, "reasons", verdict.Reasons)
	}
}

// tickCoolingDown returns to Monitoring once the deadline passes instead of
// restarting straight away. The next tick re-checks liveness and health, so a
// server that came back on its own during the cooldown is left alone; one
// that is still down or unhealthy restarts within one check interval anyway.
func (w *Watchdog) tickCoolingDown() {
	w.mu.RLock()
	until := w.cooldownUntil
	w.mu.RUnlock()
	if time.Now().Before(until) {
		return
	}
	w.setState(StateMonitoring)
}

// requestRestart consults the policy and either restarts, enters cooldown,
// or declares terminal failure when the window is exhausted.
func (w *Watchdog) requestRestart(reason string, now time.Time) {
	if err := w.policy.Check(now); err != nil {
		if w.policy.AttemptsInWindow(now) >= w.cfg.MaxRestarts {
			w.fail(reason)
			return
		}
		w.enterCooldown(now)
		return
	}
	_ = w.doRestart(reason, now, true)
}

// doRestart performs one restart attempt: record, backup, kill, relaunch.
// checkBudget selects whether a failed launch can fall back to CoolingDown
// (automatic restarts) or simply reports the error (operator restarts).
func (w *Watchdog) doRestart(reason string, now time.Time, checkBudget bool) error {
	w.setState(StateRestarting)
	w.policy.RecordAttempt(now, reason)
	w.emit(history.EventRestartAttempt, reason, string(restart.OutcomeAttempted), "")
	metrics.IncRestart(w.cfg.Server, string(restart.OutcomeAttempted))

	w.runBackupHook(reason)

	// The child is presumed unresponsive at this point; no graceful phase.
	if w.handle.Alive() {
		_ = w.handle.Kill()
	}

	ctx, cancel := context.WithTimeout(context.Background(), launchTimeout)
	err := w.handle.Launch(ctx)
	cancel()

	if err != nil {
		w.policy.RecordOutcome(false)
		metrics.IncRestart(w.cfg.Server, string(restart.OutcomeFailed))
		w.emit(history.EventRestartFailed, reason, string(restart.OutcomeFailed), err.Error())
		w.log.Error("restart launch failed",
			"server", w.cfg.Server, "reason", reason, "error", err)
		w.mu.Lock()
		w.lastErr = err.Error()
		w.mu.Unlock()

		if !checkBudget {
			w.setState(StateStopped)
			return err
		}
		if w.policy.AttemptsInWindow(now) >= w.cfg.MaxRestarts {
			w.fail(reason)
			return err
		}
		w.enterCooldown(now)
		return err
	}

	w.policy.RecordOutcome(true)
	w.sampler.ResetPortFailures()
	metrics.IncRestart(w.cfg.Server, string(restart.OutcomeSuccess))
	w.emit(history.EventRestartSuccess, reason, string(restart.OutcomeSuccess), "")
	w.log.Info("server restarted", "server", w.cfg.Server, "reason", reason, "pid", w.handle.PID())
	w.setState(StateMonitoring)
	return nil
}

// runBackupHook snapshots the world under a bounded context. Failure is
// recorded and logged; the restart or stop proceeds regardless.
func (w *Watchdog) runBackupHook(reason string) {
	w.mu.RLock()
	hook := w.hook
	w.mu.RUnlock()
	if hook == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.backupTimeout())
	err := hook(ctx, reason)
	cancel()

	outcome := "success"
	if err != nil {
		outcome = "failed"
		w.log.Warn("backup hook failed",
			"server", w.cfg.Server, "reason", reason, "error", err)
	}
	w.mu.Lock()
	w.lastBackup = outcome
	w.mu.Unlock()
	metrics.IncBackup(w.cfg.Server, outcome)
	w.emit(history.EventBackup, reason, outcome, errDetail(err))
}

// fail enters the terminal state. Only Reset leaves it.
func (w *Watchdog) fail(reason string) {
	w.mu.Lock()
	w.lastErr = restart.ErrLimitExceeded.Error()
	w.mu.Unlock()
	w.setState(StateFailed)
	w.emit(history.EventFailed, reason, "", restart.ErrLimitExceeded.Error())
	w.log.Error("restart limit exceeded, supervision halted",
		"server", w.cfg.Server, "reason", reason)
}

func (w *Watchdog) enterCooldown(now time.Time) {
	until := now.Add(w.policy.Cooldown())
	if recs := w.policy.Records(); len(recs) > 0 {
		until = recs[len(recs)-1].Timestamp.Add(w.policy.Cooldown())
	}
	w.mu.Lock()
	w.cooldownUntil = until
	w.mu.Unlock()
	w.setState(StateCoolingDown)
	w.log.Info("restart cooling down", "server", w.cfg.Server, "until", until)
}

func (w *Watchdog) setState(newState State) {
	w.mu.Lock()
	old := w.state
	w.state = newState
	w.mu.Unlock()
	if old != newState {
		metrics.RecordStateTransition(w.cfg.Server, string(old), string(newState))
	}
}

func (w *Watchdog) emit(typ history.EventType, reason, outcome, detail string) {
	w.mu.RLock()
	sink := w.sink
	w.mu.RUnlock()

	evt := history.Event{
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Server:     w.cfg.Server,
		PID:        w.handle.PID(),
		Reason:     reason,
		Outcome:    outcome,
		Detail:     detail,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Send(ctx, evt); err != nil {
		w.log.Debug("history sink send failed", "error", err)
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
