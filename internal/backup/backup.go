package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"
)

// ErrBackupFailed wraps any failure creating or verifying a snapshot.
// The watchdog logs it and proceeds; a failed backup never blocks recovery.
var ErrBackupFailed = errors.New("backup failed")

const (
	minSnapshotSize = 1024 // reject archives smaller than 1KB as corrupt
	maxNameLength   = 50
	fileExtension   = ".zip"
	logName         = "backup.log"
)

// Config for the backup manager.
type Config struct {
	Dir       string        `mapstructure:"dir"`        // where archives land
	WorldDir  string        `mapstructure:"world_dir"`  // directory to archive
	Retention int           `mapstructure:"retention"`  // snapshots to keep, default 10
	Interval  time.Duration `mapstructure:"interval"`   // auto-backup period, 0 disables
}

func (c Config) retention() int {
	if c.Retention > 0 {
		return c.Retention
	}
	return 10
}

// Snapshot describes one archive on disk.
type Snapshot struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager creates, verifies, and prunes world snapshots. One archive
// operation runs at a time; concurrent callers queue on the lock.
type Manager struct {
	cfg Config
	mu  sync.Mutex
}

// NewManager validates the config and prepares the backup directory.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup dir required")
	}
	if cfg.WorldDir == "" {
		return nil, fmt.Errorf("world dir required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg}, nil
}

// CreateSnapshot archives the world directory into <reason>_<timestamp>.zip,
// verifies the result, and prunes old snapshots down to the retention count.
// ctx cancellation aborts between files and removes the partial archive.
func (m *Manager) CreateSnapshot(ctx context.Context, reason string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fi, err := os.Stat(m.cfg.WorldDir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: world dir: %v", ErrBackupFailed, err)
	}
	if !fi.IsDir() {
		return Snapshot{}, fmt.Errorf("%w: world path is not a directory", ErrBackupFailed)
	}

	name := sanitizeName(reason) + "_" + time.Now().Format("20060102_150405") + fileExtension
	path := filepath.Join(m.cfg.Dir, name)

	if err := m.writeArchive(ctx, path); err != nil {
		_ = os.Remove(path)
		return Snapshot{}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	if err := verifyArchive(path); err != nil {
		_ = os.Remove(path)
		return Snapshot{}, fmt.Errorf("%w: verification: %v", ErrBackupFailed, err)
	}

	st, _ := os.Stat(path)
	snap := Snapshot{Name: name, Path: path, SizeBytes: st.Size(), CreatedAt: st.ModTime()}
	m.appendLog(fmt.Sprintf("created %s reason=%s size=%d", name, reason, snap.SizeBytes))

	if removed, err := m.pruneLocked(m.cfg.retention()); err != nil {
		slog.Warn("backup prune failed", "error", err)
	} else if removed > 0 {
		slog.Info("pruned old backups", "removed", removed)
	}
	return snap, nil
}

func (m *Manager) writeArchive(ctx context.Context, path string) error {
	f, err := os.Create(path) // #nosec G304 -- path derived from validated config
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)

	root := filepath.Clean(m.cfg.WorldDir)
	base := filepath.Base(root)
	walkErr := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			// Skip files the server deleted mid-walk.
			return nil
		}
		if info.IsDir() {
			return ctx.Err()
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(filepath.Join(base, rel)))
		if err != nil {
			return err
		}
		src, err := os.Open(p) // #nosec G304 -- path from filepath.Walk under the world dir
		if err != nil {
			return nil // vanished between walk and open
		}
		_, err = io.Copy(w, src)
		_ = src.Close()
		return err
	})

	if cerr := zw.Close(); walkErr == nil {
		walkErr = cerr
	}
	if cerr := f.Close(); walkErr == nil {
		walkErr = cerr
	}
	return walkErr
}

// verifyArchive checks size and that every entry is readable.
func verifyArchive(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if st.Size() < minSnapshotSize {
		return fmt.Errorf("archive too small (%d bytes)", st.Size())
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = zr.Close() }()
	for _, zf := range zr.File {
		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("entry %s: %w", zf.Name, err)
		}
		_, err = io.Copy(io.Discard, rc) // #nosec G110 -- trusted local archive just written
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("entry %s: %w", zf.Name, err)
		}
	}
	return nil
}

// Verify re-checks an existing snapshot by name.
func (m *Manager) Verify(name string) error {
	return verifyArchive(filepath.Join(m.cfg.Dir, filepath.Base(name)))
}

// PruneOld removes the oldest snapshots beyond retention, returning the
// number removed.
func (m *Manager) PruneOld(retention int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if retention <= 0 {
		retention = m.cfg.retention()
	}
	return m.pruneLocked(retention)
}

func (m *Manager) pruneLocked(retention int) (int, error) {
	snaps, err := m.listLocked()
	if err != nil {
		return 0, err
	}
	if len(snaps) <= retention {
		return 0, nil
	}
	removed := 0
	// listLocked is newest first.
	for _, s := range snaps[retention:] {
		if err := os.Remove(s.Path); err != nil {
			slog.Warn("failed to remove old backup", "name", s.Name, "error", err)
			continue
		}
		m.appendLog("removed " + s.Name)
		removed++
	}
	return removed, nil
}

// List returns snapshots, newest first.
func (m *Manager) List() ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

func (m *Manager) listLocked() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return nil, err
	}
	var snaps []Snapshot
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExtension) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			Name:      e.Name(),
			Path:      filepath.Join(m.cfg.Dir, e.Name()),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime(),
		})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })
	return snaps, nil
}

// appendLog writes one line to the backup audit log, best effort.
func (m *Manager) appendLog(line string) {
	f, err := os.OpenFile(filepath.Join(m.cfg.Dir, logName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(f, "%s %s\n", time.Now().Format(time.RFC3339), line)
	_ = f.Close()
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "backup"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := b.String()
	if len(s) > maxNameLength {
		s = s[:maxNameLength]
	}
	return s
}
