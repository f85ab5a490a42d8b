//go:build !windows

package proc

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// FileLock is an exclusive advisory flock held for the lifetime of the
// supervisor's ownership of one server instance. The lock dies with the
// process, so stale locks from crashed supervisors never block a new one.
type FileLock struct {
	path string
	f    *os.File
}

// AcquireLock takes an exclusive non-blocking flock on path.
// Returns ErrLockUnavailable when another process holds it.
func AcquireLock(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK || err == syscall.EAGAIN {
			return nil, fmt.Errorf("%w: %s", ErrLockUnavailable, path)
		}
		return nil, err
	}
	// Record the holder pid for operator inspection; content is informational only.
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Sync()
	return &FileLock{path: path, f: f}, nil
}

// Release drops the flock and removes the lock file.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	_ = l.f.Close()
	l.f = nil
	_ = os.Remove(l.path)
	return err
}

// Path returns the lock file location.
func (l *FileLock) Path() string { return l.path }
