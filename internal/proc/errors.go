package proc

import "errors"

// Sentinel errors returned by Handle operations. Callers match with errors.Is.
var (
	// ErrAlreadyRunning is returned by Launch when a live server owns the pid file.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrLockUnavailable is returned by Launch when another supervisor holds the lock.
	ErrLockUnavailable = errors.New("instance lock unavailable")
	// ErrLaunchFailed wraps the underlying cause when the child cannot be started.
	ErrLaunchFailed = errors.New("launch failed")
	// ErrNotRunning is returned by Stop/SendCommand when there is no live child.
	ErrNotRunning = errors.New("server not running")
	// ErrStopTimedOut reports that graceful shutdown timed out and the child was
	// killed. The stop itself succeeded; this is advisory.
	ErrStopTimedOut = errors.New("graceful stop timed out, killed")
	// ErrProcessGone means the recorded pid no longer refers to the launched
	// process (exited, or the pid was recycled by an unrelated process).
	ErrProcessGone = errors.New("process gone")
)
