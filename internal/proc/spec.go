package proc

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/minewarden/minewarden/internal/logger"
)

// Default graceful stop budget before SIGKILL escalation.
const DefaultStopTimeout = 10 * time.Second

// Spec describes the game server process to launch.
type Spec struct {
	Name        string        `json:"name" mapstructure:"name"`
	ServerDir   string        `json:"server_dir" mapstructure:"server_dir"`
	JarName     string        `json:"jar_name" mapstructure:"jar_name"`
	JavaBin     string        `json:"java_bin" mapstructure:"java_bin"` // defaults to "java"
	MinMemory   string        `json:"min_memory" mapstructure:"min_memory"`
	MaxMemory   string        `json:"max_memory" mapstructure:"max_memory"`
	JavaArgs    []string      `json:"java_args" mapstructure:"java_args"`   // extra JVM flags before -jar
	ServerArgs  []string      `json:"server_args" mapstructure:"server_args"` // after the jar; "nogui" added if absent
	Env         []string      `json:"env" mapstructure:"env"`                  // KEY=VALUE pairs appended to the OS environment
	PIDFile     string        `json:"pid_file" mapstructure:"pid_file"`
	LockFile    string        `json:"lock_file" mapstructure:"lock_file"`
	StopCommand string        `json:"stop_command" mapstructure:"stop_command"` // console command for graceful shutdown, default "stop"
	StopTimeout time.Duration `json:"stop_timeout" mapstructure:"stop_timeout"`
	Log         logger.Config `json:"log" mapstructure:"log"`
}

// Validate checks the spec against the filesystem before a launch attempt.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("spec.name required")
	}
	if s.ServerDir == "" {
		return fmt.Errorf("spec.server_dir required")
	}
	fi, err := os.Stat(s.ServerDir)
	if err != nil {
		return fmt.Errorf("server dir %s: %w", s.ServerDir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("server dir %s is not a directory", s.ServerDir)
	}
	if s.JarName == "" {
		return fmt.Errorf("spec.jar_name required")
	}
	jar := filepath.Join(s.ServerDir, s.JarName)
	if _, err := os.Stat(jar); err != nil {
		return fmt.Errorf("server jar %s: %w", jar, err)
	}
	return nil
}

// BuildCommand constructs the java invocation for this spec:
//
//	java -Xms<min> -Xmx<max> [java_args...] -jar <jar> [server_args...]
//
// "nogui" is appended when no server args were given.
func (s *Spec) BuildCommand() *exec.Cmd {
	bin := s.JavaBin
	if bin == "" {
		bin = "java"
	}
	args := make([]string, 0, len(s.JavaArgs)+len(s.ServerArgs)+5)
	if s.MinMemory != "" {
		args = append(args, "-Xms"+s.MinMemory)
	}
	if s.MaxMemory != "" {
		args = append(args, "-Xmx"+s.MaxMemory)
	}
	args = append(args, s.JavaArgs...)
	args = append(args, "-jar", s.JarName)
	if len(s.ServerArgs) > 0 {
		args = append(args, s.ServerArgs...)
	} else {
		args = append(args, "nogui")
	}
	// ok: intentional execution, input is validated and safe
	// #nosec G204
	cmd := exec.Command(bin, args...)
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	return cmd
}

// stopCommand returns the console command used for graceful shutdown.
func (s *Spec) stopCommand() string {
	if c := strings.TrimSpace(s.StopCommand); c != "" {
		return c
	}
	return "stop"
}

// stopTimeout returns the graceful stop budget.
func (s *Spec) stopTimeout() time.Duration {
	if s.StopTimeout > 0 {
		return s.StopTimeout
	}
	return DefaultStopTimeout
}

// pidFilePath derives the pid file location, defaulting under ServerDir.
func (s *Spec) pidFilePath() string {
	if s.PIDFile != "" {
		return s.PIDFile
	}
	return filepath.Join(s.ServerDir, s.Name+".pid")
}

// lockFilePath derives the lock file location, defaulting under ServerDir.
func (s *Spec) lockFilePath() string {
	if s.LockFile != "" {
		return s.LockFile
	}
	return filepath.Join(s.ServerDir, s.Name+".lock")
}
