package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "minewarden.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
name = "survival"
dir = "/srv/minecraft"
jar_name = "server.jar"
java_bin = "/usr/bin/java"
min_memory = "1G"
max_memory = "8G"
java_args = ["-XX:+UseG1GC"]
port = 25565
stop_timeout = "20s"

[watchdog]
check_interval = "10s"
max_restarts = 3
restart_window = "600s"
restart_cooldown = "60s"
restart_on_crash = false

[scoring]
cpu_high_water = 90.0
memory_max_mb = 8192.0
memory_high_fraction = 0.9

[backup]
dir = "/var/backups/minecraft"
retention = 5
interval = "30m"

[history]
dsn = "sqlite:///var/lib/minewarden/history.db"

[log]
dir = "/var/log/minewarden"
level = "debug"

[http]
listen = ":8420"
metrics_listen = ":9420"
`)
	fc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fc.Server.Name != "survival" || fc.Server.JarName != "server.jar" {
		t.Fatalf("server section wrong: %+v", fc.Server)
	}
	if fc.Server.StopTimeout != 20*time.Second {
		t.Fatalf("stop_timeout = %v", fc.Server.StopTimeout)
	}
	if fc.Watchdog.CheckInterval != 10*time.Second || fc.Watchdog.MaxRestarts != 3 {
		t.Fatalf("watchdog section wrong: %+v", fc.Watchdog)
	}
	if fc.Watchdog.RestartCooldown != time.Minute {
		t.Fatalf("restart_cooldown = %v", fc.Watchdog.RestartCooldown)
	}
	if fc.Watchdog.RestartOnCrashEnabled() {
		t.Fatalf("restart_on_crash=false not honored")
	}
	if fc.Scoring.MemoryHighFraction != 0.9 {
		t.Fatalf("scoring section wrong: %+v", fc.Scoring)
	}
	if fc.Backup.Interval != 30*time.Minute || fc.Backup.Retention != 5 {
		t.Fatalf("backup section wrong: %+v", fc.Backup)
	}
	// world dir inferred from server dir
	if fc.Backup.WorldDir != filepath.Join("/srv/minecraft", "world") {
		t.Fatalf("world_dir = %q", fc.Backup.WorldDir)
	}
	if fc.History.DSN == "" {
		t.Fatalf("history dsn missing")
	}
	if fc.HTTP.Listen != ":8420" || fc.HTTP.MetricsAddr != ":9420" {
		t.Fatalf("http section wrong: %+v", fc.HTTP)
	}

	spec := fc.ProcSpec()
	if spec.MaxMemory != "8G" || spec.StopTimeout != 20*time.Second {
		t.Fatalf("ProcSpec wrong: %+v", spec)
	}
	if spec.Log.Dir != "/var/log/minewarden" || spec.Log.Level != "debug" {
		t.Fatalf("ProcSpec log wrong: %+v", spec.Log)
	}
	sc := fc.StatsConfig()
	if sc.Port != 25565 {
		t.Fatalf("StatsConfig port = %d", sc.Port)
	}
	// The check tick drives sampling, so the sampler inherits its cadence.
	if sc.Interval != fc.Watchdog.CheckInterval {
		t.Fatalf("StatsConfig interval = %v, want %v", sc.Interval, fc.Watchdog.CheckInterval)
	}
	th := fc.Thresholds()
	if th.CPUHighWater != 90 || th.MemoryMaxMB != 8192 {
		t.Fatalf("Thresholds wrong: %+v", th)
	}
	bc := fc.BackupManagerConfig()
	if bc == nil || bc.Retention != 5 {
		t.Fatalf("BackupManagerConfig wrong: %+v", bc)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
dir = "/srv/minecraft/survival"
`)
	fc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fc.Server.Name != "survival" {
		t.Fatalf("name not derived from dir: %q", fc.Server.Name)
	}
	if fc.Server.JarName != DefaultJarName {
		t.Fatalf("jar_name = %q", fc.Server.JarName)
	}
	if fc.Server.MinMemory != "2G" || fc.Server.MaxMemory != "4G" {
		t.Fatalf("memory defaults wrong: %s/%s", fc.Server.MinMemory, fc.Server.MaxMemory)
	}
	if fc.Server.StopTimeout != DefaultStopTimeout {
		t.Fatalf("stop_timeout default = %v", fc.Server.StopTimeout)
	}
	if fc.Watchdog.CheckInterval != DefaultCheckInterval {
		t.Fatalf("check_interval default = %v", fc.Watchdog.CheckInterval)
	}
	if fc.Watchdog.MaxRestarts != DefaultMaxRestarts {
		t.Fatalf("max_restarts default = %d", fc.Watchdog.MaxRestarts)
	}
	if fc.Watchdog.RestartWindow != DefaultRestartWindow {
		t.Fatalf("restart_window default = %v", fc.Watchdog.RestartWindow)
	}
	if fc.Watchdog.RestartCooldown != DefaultRestartCooldown {
		t.Fatalf("restart_cooldown default = %v", fc.Watchdog.RestartCooldown)
	}
	if !fc.Watchdog.RestartOnCrashEnabled() {
		t.Fatalf("restart_on_crash must default to true")
	}
	if fc.Scoring.CPUHighWater != 85 || fc.Scoring.MemoryHighFraction != 0.8 {
		t.Fatalf("scoring defaults wrong: %+v", fc.Scoring)
	}
	if fc.Backup.Retention != DefaultBackupRetention || fc.Backup.Interval != DefaultBackupInterval {
		t.Fatalf("backup defaults wrong: %+v", fc.Backup)
	}
	if fc.BackupManagerConfig() != nil {
		t.Fatalf("backup manager must be nil without backup.dir")
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing server dir", "[watchdog]\nmax_restarts = 3\n"},
		{"port out of range", "[server]\ndir = \"/srv/mc\"\nport = 70000\n"},
		{"interval too small", "[server]\ndir = \"/srv/mc\"\n[watchdog]\ncheck_interval = \"100ms\"\n"},
		{"memory fraction >= 1", "[server]\ndir = \"/srv/mc\"\n[scoring]\nmemory_high_fraction = 1.5\n"},
		{"cpu high water >= 100", "[server]\ndir = \"/srv/mc\"\n[scoring]\ncpu_high_water = 100.0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
