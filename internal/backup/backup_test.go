package backup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

func writeWorld(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "region"), 0o750))
	// Enough data that the archive clears the minimum-size check.
	payload := bytes.Repeat([]byte("chunkdata"), 1024)
	require.NoError(t, os.WriteFile(filepath.Join(root, "level.dat"), payload, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "region", "r.0.0.mca"), payload, 0o600))
}

func newTestManager(t *testing.T, retention int) (*Manager, string, string) {
	t.Helper()
	dir := t.TempDir()
	world := filepath.Join(dir, "world")
	backups := filepath.Join(dir, "backups")
	writeWorld(t, world)
	m, err := NewManager(Config{Dir: backups, WorldDir: world, Retention: retention})
	require.NoError(t, err)
	return m, world, backups
}

func TestCreateSnapshot(t *testing.T) {
	m, world, backups := newTestManager(t, 10)

	snap, err := m.CreateSnapshot(context.Background(), "pre_restart")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(snap.Name, "pre_restart_"))
	require.GreaterOrEqual(t, snap.SizeBytes, int64(minSnapshotSize))

	// Archive contains the world files under the world/ prefix.
	zr, err := zip.OpenReader(snap.Path)
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	require.True(t, names[filepath.Base(world)+"/level.dat"], "missing level.dat: %v", names)
	require.True(t, names[filepath.Base(world)+"/region/r.0.0.mca"], "missing region file: %v", names)

	// Audit log written.
	logBytes, err := os.ReadFile(filepath.Join(backups, logName))
	require.NoError(t, err)
	require.Contains(t, string(logBytes), "created "+snap.Name)
}

func TestCreateSnapshotMissingWorld(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(Config{Dir: filepath.Join(dir, "b"), WorldDir: filepath.Join(dir, "nope")})
	require.NoError(t, err)
	_, err = m.CreateSnapshot(context.Background(), "manual")
	require.ErrorIs(t, err, ErrBackupFailed)
}

func TestCreateSnapshotCancelled(t *testing.T) {
	m, _, backups := newTestManager(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.CreateSnapshot(ctx, "manual")
	require.ErrorIs(t, err, ErrBackupFailed)
	// No partial archive left behind.
	entries, err := os.ReadDir(backups)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasSuffix(e.Name(), fileExtension), "partial archive left: %s", e.Name())
	}
}

func TestVerifyRejectsCorruptArchive(t *testing.T) {
	m, _, backups := newTestManager(t, 10)
	snap, err := m.CreateSnapshot(context.Background(), "manual")
	require.NoError(t, err)
	require.NoError(t, m.Verify(snap.Name))

	// Truncate to garbage and verify again.
	require.NoError(t, os.WriteFile(filepath.Join(backups, snap.Name), bytes.Repeat([]byte("x"), 2048), 0o600))
	require.Error(t, m.Verify(snap.Name))

	// Too-small archives fail on size alone.
	small := filepath.Join(backups, "tiny.zip")
	require.NoError(t, os.WriteFile(small, []byte("zip"), 0o600))
	require.Error(t, m.Verify("tiny.zip"))
}

func TestRetentionPrunesOldest(t *testing.T) {
	m, _, _ := newTestManager(t, 2)
	var names []string
	for i := 0; i < 3; i++ {
		snap, err := m.CreateSnapshot(context.Background(), "auto")
		require.NoError(t, err)
		names = append(names, snap.Name)
		// Distinct mtimes so ordering is deterministic.
		time.Sleep(1100 * time.Millisecond)
	}
	snaps, err := m.List()
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, names[2], snaps[0].Name)
	require.Equal(t, names[1], snaps[1].Name)
}

func TestPruneOldExplicit(t *testing.T) {
	m, _, _ := newTestManager(t, 100)
	for i := 0; i < 3; i++ {
		_, err := m.CreateSnapshot(context.Background(), "auto")
		require.NoError(t, err)
		time.Sleep(1100 * time.Millisecond)
	}
	removed, err := m.PruneOld(1)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	snaps, err := m.List()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"pre_restart":      "pre_restart",
		"":                 "backup",
		"  ":               "backup",
		"a/b\\c:d":         "a_b_c_d",
		strings.Repeat("x", 80): strings.Repeat("x", maxNameLength),
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Fatalf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
