package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/minewarden/minewarden/internal/backup"
	"github.com/minewarden/minewarden/internal/health"
	"github.com/minewarden/minewarden/internal/logger"
	"github.com/minewarden/minewarden/internal/proc"
	"github.com/minewarden/minewarden/internal/stats"
	"github.com/spf13/viper"
)

// Defaults applied when the TOML file leaves a key unset.
const (
	DefaultCheckInterval   = 30 * time.Second
	DefaultStopTimeout     = 10 * time.Second
	DefaultMaxRestarts     = 5
	DefaultRestartWindow   = 600 * time.Second
	DefaultRestartCooldown = 300 * time.Second
	DefaultBackupInterval  = time.Hour
	DefaultBackupRetention = 10
	DefaultMinMemory       = "2G"
	DefaultMaxMemory       = "4G"
	DefaultJarName         = "neoforge-server.jar"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Server   ServerConfig   `toml:"server" mapstructure:"server"`
	Watchdog WatchdogConfig `toml:"watchdog" mapstructure:"watchdog"`
	Scoring  ScoringConfig  `toml:"scoring" mapstructure:"scoring"`
	Backup   BackupConfig   `toml:"backup" mapstructure:"backup"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`
	Log      *LogConfig     `toml:"log" mapstructure:"log"`
	HTTP     HTTPConfig     `toml:"http" mapstructure:"http"`
}

type ServerConfig struct {
	Name        string        `toml:"name" mapstructure:"name"`
	Dir         string        `toml:"dir" mapstructure:"dir"`
	JarName     string        `toml:"jar_name" mapstructure:"jar_name"`
	JavaBin     string        `toml:"java_bin" mapstructure:"java_bin"`
	MinMemory   string        `toml:"min_memory" mapstructure:"min_memory"`
	MaxMemory   string        `toml:"max_memory" mapstructure:"max_memory"`
	JavaArgs    []string      `toml:"java_args" mapstructure:"java_args"`
	ServerArgs  []string      `toml:"server_args" mapstructure:"server_args"`
	Env         []string      `toml:"env" mapstructure:"env"`
	Port        int           `toml:"port" mapstructure:"port"`
	PIDFile     string        `toml:"pidfile" mapstructure:"pidfile"`
	LockFile    string        `toml:"lockfile" mapstructure:"lockfile"`
	StopCommand string        `toml:"stop_command" mapstructure:"stop_command"`
	StopTimeout time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
}

type WatchdogConfig struct {
	CheckInterval   time.Duration `toml:"check_interval" mapstructure:"check_interval"`
	MaxRestarts     int           `toml:"max_restarts" mapstructure:"max_restarts"`
	RestartWindow   time.Duration `toml:"restart_window" mapstructure:"restart_window"`
	RestartCooldown time.Duration `toml:"restart_cooldown" mapstructure:"restart_cooldown"`
	RestartOnCrash  *bool         `toml:"restart_on_crash" mapstructure:"restart_on_crash"`
}

type ScoringConfig struct {
	CPUHighWater       float64 `toml:"cpu_high_water" mapstructure:"cpu_high_water"`
	MemoryMaxMB        float64 `toml:"memory_max_mb" mapstructure:"memory_max_mb"`
	MemoryHighFraction float64 `toml:"memory_high_fraction" mapstructure:"memory_high_fraction"`
}

type BackupConfig struct {
	Dir       string        `toml:"dir" mapstructure:"dir"`
	WorldDir  string        `toml:"world_dir" mapstructure:"world_dir"`
	Retention int           `toml:"retention" mapstructure:"retention"`
	Interval  time.Duration `toml:"interval" mapstructure:"interval"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Level      string `toml:"level" mapstructure:"level"`
	Color      bool   `toml:"color" mapstructure:"color"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HTTPConfig struct {
	Listen      string `toml:"listen" mapstructure:"listen"`
	BasePath    string `toml:"base_path" mapstructure:"base_path"`
	MetricsAddr string `toml:"metrics_listen" mapstructure:"metrics_listen"`
}

// Load reads a TOML config file, applies defaults and validates it.
// Durations are written as strings ("30s", "5m").
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	fc.applyDefaults()
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) applyDefaults() {
	s := &fc.Server
	if s.Name == "" && s.Dir != "" {
		s.Name = filepath.Base(s.Dir)
	}
	if s.JarName == "" {
		s.JarName = DefaultJarName
	}
	if s.MinMemory == "" {
		s.MinMemory = DefaultMinMemory
	}
	if s.MaxMemory == "" {
		s.MaxMemory = DefaultMaxMemory
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = DefaultStopTimeout
	}

	w := &fc.Watchdog
	if w.CheckInterval <= 0 {
		w.CheckInterval = DefaultCheckInterval
	}
	if w.MaxRestarts <= 0 {
		w.MaxRestarts = DefaultMaxRestarts
	}
	if w.RestartWindow <= 0 {
		w.RestartWindow = DefaultRestartWindow
	}
	if w.RestartCooldown == 0 {
		w.RestartCooldown = DefaultRestartCooldown
	} else if w.RestartCooldown < 0 {
		w.RestartCooldown = 0
	}

	sc := &fc.Scoring
	def := health.DefaultThresholds()
	if sc.CPUHighWater <= 0 {
		sc.CPUHighWater = def.CPUHighWater
	}
	if sc.MemoryMaxMB <= 0 {
		sc.MemoryMaxMB = def.MemoryMaxMB
	}
	if sc.MemoryHighFraction <= 0 {
		sc.MemoryHighFraction = def.MemoryHighFraction
	}

	b := &fc.Backup
	if b.Retention <= 0 {
		b.Retention = DefaultBackupRetention
	}
	if b.Interval <= 0 {
		b.Interval = DefaultBackupInterval
	}
	if b.Dir != "" && b.WorldDir == "" && fc.Server.Dir != "" {
		b.WorldDir = filepath.Join(fc.Server.Dir, "world")
	}
}

// Validate rejects configs that cannot possibly run. Filesystem checks
// (server dir, jar) happen later in proc.Spec.Validate so that a config
// can be parsed on a machine that does not host the server.
func (fc *FileConfig) Validate() error {
	if fc.Server.Dir == "" {
		return fmt.Errorf("server.dir is required")
	}
	if fc.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}
	if fc.Server.Port < 0 || fc.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", fc.Server.Port)
	}
	if fc.Watchdog.CheckInterval < time.Second {
		return fmt.Errorf("watchdog.check_interval %s too small (min 1s)", fc.Watchdog.CheckInterval)
	}
	if fc.Scoring.MemoryHighFraction >= 1 {
		return fmt.Errorf("scoring.memory_high_fraction must be < 1, got %v", fc.Scoring.MemoryHighFraction)
	}
	if fc.Scoring.CPUHighWater >= 100 {
		return fmt.Errorf("scoring.cpu_high_water must be < 100, got %v", fc.Scoring.CPUHighWater)
	}
	return nil
}

// RestartOnCrashEnabled defaults to true when the key is unset.
func (w WatchdogConfig) RestartOnCrashEnabled() bool {
	if w.RestartOnCrash == nil {
		return true
	}
	return *w.RestartOnCrash
}

// ProcSpec builds the launch spec for the supervised server.
func (fc *FileConfig) ProcSpec() proc.Spec {
	s := fc.Server
	return proc.Spec{
		Name:        s.Name,
		ServerDir:   s.Dir,
		JarName:     s.JarName,
		JavaBin:     s.JavaBin,
		MinMemory:   s.MinMemory,
		MaxMemory:   s.MaxMemory,
		JavaArgs:    s.JavaArgs,
		ServerArgs:  s.ServerArgs,
		Env:         s.Env,
		PIDFile:     s.PIDFile,
		LockFile:    s.LockFile,
		StopCommand: s.StopCommand,
		StopTimeout: s.StopTimeout,
		Log:         fc.LoggerConfig(),
	}
}

// StatsConfig builds the sampler configuration. The watchdog's check tick is
// the sole sampling driver, so its interval sizes the sampler's histories.
func (fc *FileConfig) StatsConfig() stats.Config {
	return stats.Config{
		Interval: fc.Watchdog.CheckInterval,
		Port:     fc.Server.Port,
	}
}

// Thresholds builds the health scoring thresholds.
func (fc *FileConfig) Thresholds() health.Thresholds {
	return health.Thresholds{
		CPUHighWater:       fc.Scoring.CPUHighWater,
		MemoryMaxMB:        fc.Scoring.MemoryMaxMB,
		MemoryHighFraction: fc.Scoring.MemoryHighFraction,
	}
}

// BackupManagerConfig builds the backup manager configuration, or nil
// when backups are not configured.
func (fc *FileConfig) BackupManagerConfig() *backup.Config {
	if fc.Backup.Dir == "" {
		return nil
	}
	return &backup.Config{
		Dir:       fc.Backup.Dir,
		WorldDir:  fc.Backup.WorldDir,
		Retention: fc.Backup.Retention,
		Interval:  fc.Backup.Interval,
	}
}

// LoggerConfig returns the daemon logger configuration.
func (fc *FileConfig) LoggerConfig() logger.Config {
	if fc.Log == nil {
		return logger.Config{}
	}
	return logger.Config{
		Dir:        fc.Log.Dir,
		Level:      fc.Log.Level,
		Color:      fc.Log.Color,
		MaxSizeMB:  fc.Log.MaxSizeMB,
		MaxBackups: fc.Log.MaxBackups,
		MaxAgeDays: fc.Log.MaxAgeDays,
		Compress:   fc.Log.Compress,
	}
}
