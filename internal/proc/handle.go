//go:build !windows

package proc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Handle owns exactly one game server child process: launch, liveness,
// graceful stop with kill escalation, and console commands over stdin.
// All exported methods are safe for concurrent use.
type Handle struct {
	mu     sync.Mutex
	spec   Spec
	cmd    *exec.Cmd
	status Status

	lock     *FileLock
	stdin    io.WriteCloser
	outW     io.WriteCloser
	errW     io.WriteCloser
	waitDone chan struct{} // closed by the reaper when cmd.Wait returns

	stopping  bool // planned stop requested; exit is not a crash
	startUnix int64
}

// NewHandle creates a handle for spec. Nothing is launched yet.
func NewHandle(spec Spec) *Handle {
	return &Handle{spec: spec}
}

// Spec returns a copy of the spec.
func (h *Handle) Spec() Spec {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spec
}

// Launch starts the server. It refuses to start when a verified live instance
// already owns the pid file (ErrAlreadyRunning) or when another supervisor
// holds the instance lock (ErrLockUnavailable). Start failures are wrapped in
// ErrLaunchFailed and leave no lock or pid file behind.
func (h *Handle) Launch(ctx context.Context) error {
	h.mu.Lock()
	spec := h.spec
	running := h.status.Running
	h.mu.Unlock()

	if running {
		return ErrAlreadyRunning
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	if pid, ok := FindRunning(spec.pidFilePath()); ok {
		return fmt.Errorf("%w: pid %d", ErrAlreadyRunning, pid)
	}

	lock, err := AcquireLock(spec.lockFilePath())
	if err != nil {
		return err
	}

	cmd := spec.BuildCommand()
	cmd.Dir = spec.ServerDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = lock.Release()
		return fmt.Errorf("%w: stdin pipe: %v", ErrLaunchFailed, err)
	}

	outW, errW, lerr := spec.Log.ConsoleWriters(spec.Name)
	if lerr != nil {
		slog.Warn("console log setup failed, discarding output", "error", lerr)
	}
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		closeIfSet(outW)
		closeIfSet(errW)
		_ = lock.Release()
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	if ctx.Err() != nil {
		// Caller gave up while we were starting; tear the child down.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	pid := cmd.Process.Pid
	startUnix := procStartUnix(pid)

	h.mu.Lock()
	h.cmd = cmd
	h.lock = lock
	h.stdin = stdin
	h.outW = outW
	h.errW = errW
	h.waitDone = make(chan struct{})
	h.stopping = false
	h.startUnix = startUnix
	h.status = Status{Name: spec.Name, Running: true, PID: pid, StartedAt: time.Now()}
	wd := h.waitDone
	h.mu.Unlock()

	if err := WritePIDFile(spec.pidFilePath(), pid, spec); err != nil {
		slog.Warn("pid file write failed", "path", spec.pidFilePath(), "error", err)
	}

	go h.reap(cmd, wd)
	return nil
}

// reap is the single waiter for one run. It transitions state, closes the
// console writers, removes the pid file, and releases the lock.
func (h *Handle) reap(cmd *exec.Cmd, wd chan struct{}) {
	err := cmd.Wait()

	h.mu.Lock()
	h.status.Running = false
	h.status.StoppedAt = time.Now()
	h.status.ExitErr = err
	if err != nil {
		h.status.ExitError = err.Error()
	}
	lock := h.lock
	h.lock = nil
	outW, errW := h.outW, h.errW
	h.outW, h.errW = nil, nil
	stdin := h.stdin
	h.stdin = nil
	spec := h.spec
	h.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	closeIfSet(outW)
	closeIfSet(errW)
	RemovePIDFile(spec.pidFilePath())
	if lock != nil {
		_ = lock.Release()
	}
	close(wd)
}

// Stop performs a graceful shutdown: the console stop command goes to the
// child's stdin, then SIGTERM to the process group, and SIGKILL after the
// spec's stop timeout. Returns ErrStopTimedOut when escalation was needed;
// the child is down either way.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.status.Running {
		h.mu.Unlock()
		return ErrNotRunning
	}
	h.stopping = true
	h.status.StopRequested = true
	cmd := h.cmd
	stdin := h.stdin
	wd := h.waitDone
	spec := h.spec
	h.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return ErrNotRunning
	}
	pid := cmd.Process.Pid

	if stdin != nil {
		_, _ = io.WriteString(stdin, spec.stopCommand()+"\n")
	}
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	timeout := spec.stopTimeout()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}

	select {
	case <-wd:
		return nil
	case <-time.After(timeout):
	}

	_ = syscall.Kill(-pid, syscall.SIGKILL)
	select {
	case <-wd:
	case <-time.After(2 * time.Second):
		// Reaper has not observed the exit yet; kernel has the SIGKILL.
	}
	return ErrStopTimedOut
}

// Kill sends SIGKILL to the process group without a graceful phase.
func (h *Handle) Kill() error {
	h.mu.Lock()
	cmd := h.cmd
	running := h.status.Running
	h.stopping = true
	wd := h.waitDone
	h.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		return ErrNotRunning
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	select {
	case <-wd:
	case <-time.After(2 * time.Second):
	}
	return nil
}

// SendCommand writes a console command to the child's stdin, fire-and-forget.
func (h *Handle) SendCommand(cmd string) error {
	h.mu.Lock()
	stdin := h.stdin
	running := h.status.Running
	h.mu.Unlock()

	if !running || stdin == nil {
		return ErrNotRunning
	}
	if _, err := io.WriteString(stdin, cmd+"\n"); err != nil {
		return fmt.Errorf("%w: %v", ErrProcessGone, err)
	}
	return nil
}

// Alive probes liveness of the launched child. Zombies count as dead.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	cmd := h.cmd
	running := h.status.Running
	h.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		return false
	}
	pid := cmd.Process.Pid
	if isZombie(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// PID returns the child's pid, or 0 when not running.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.status.Running {
		return 0
	}
	return h.status.PID
}

// StopRequested reports whether the current/last exit was operator-initiated.
func (h *Handle) StopRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopping
}

// WaitDone returns the channel closed when the current run's reaper finishes,
// or nil when nothing was launched yet.
func (h *Handle) WaitDone() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitDone
}

// Snapshot returns a copy of the current status.
func (h *Handle) Snapshot() Status {
	h.mu.Lock()
	s := h.status
	h.mu.Unlock()
	if s.Running && !s.StartedAt.IsZero() {
		s.UptimeSeconds = int64(time.Since(s.StartedAt).Seconds())
	}
	return s
}

// FindRunning inspects a pid file and reports a verified live instance.
// Stale files (dead pid, or a recycled pid with a different start time)
// are removed.
func FindRunning(pidFile string) (int, bool) {
	pid, _, meta, err := ReadPIDFile(pidFile)
	if err != nil || pid <= 0 {
		return 0, false
	}
	if syscall.Kill(pid, 0) != nil || isZombie(pid) || !VerifyPIDIdentity(pid, meta) {
		RemovePIDFile(pidFile)
		return 0, false
	}
	return pid, true
}

// isZombie reports whether /proc/<pid>/status shows state Z.
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

func closeIfSet(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
