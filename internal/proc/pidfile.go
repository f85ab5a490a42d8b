package proc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDMeta carries the identity metadata stored alongside the pid so a
// recycled pid is never mistaken for the server we launched.
type PIDMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// WritePIDFile persists pid, the launching Spec, and identity metadata.
// Layout: first line pid, second line Spec JSON, third line PIDMeta JSON.
func WritePIDFile(path string, pid int, spec Spec) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	meta := PIDMeta{StartUnix: procStartUnix(pid)}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	content := strconv.Itoa(pid) + "\n" + string(specJSON) + "\n" + string(metaJSON) + "\n"
	return os.WriteFile(path, []byte(content), 0o600)
}

// ReadPIDFile reads a file written by WritePIDFile. Legacy files with only a
// pid line yield nil spec and zero meta.
func ReadPIDFile(path string) (int, *Spec, PIDMeta, error) {
	var meta PIDMeta
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, meta, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, nil, meta, err
	}
	specLine, metaLine, _ := strings.Cut(rest, "\n")
	specLine = strings.TrimSpace(specLine)
	if specLine == "" {
		return pid, nil, meta, nil
	}
	var spec Spec
	if err := json.Unmarshal([]byte(specLine), &spec); err != nil {
		// Return the pid even when the trailer cannot be parsed.
		return pid, nil, meta, nil
	}
	if metaLine = strings.TrimSpace(metaLine); metaLine != "" {
		_ = json.Unmarshal([]byte(metaLine), &meta)
	}
	return pid, &spec, meta, nil
}

// RemovePIDFile is best-effort.
func RemovePIDFile(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}

// VerifyPIDIdentity reports whether pid still refers to the process recorded
// in meta. A zero StartUnix (identity unknown) verifies by liveness alone.
// A small tolerance absorbs clock-tick rounding between reads.
func VerifyPIDIdentity(pid int, meta PIDMeta) bool {
	if pid <= 0 {
		return false
	}
	cur := procStartUnix(pid)
	if cur == 0 {
		return false
	}
	if meta.StartUnix == 0 {
		return true
	}
	diff := cur - meta.StartUnix
	if diff < 0 {
		diff = -diff
	}
	return diff <= 2
}
