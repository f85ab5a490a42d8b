package proc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBuildCommandArgs(t *testing.T) {
	s := Spec{
		Name:      "srv",
		ServerDir: "/srv/mc",
		JarName:   "neoforge-server.jar",
		MinMemory: "2G",
		MaxMemory: "4G",
		JavaArgs:  []string{"-XX:+UseG1GC"},
	}
	cmd := s.BuildCommand()
	got := strings.Join(cmd.Args, " ")
	want := "java -Xms2G -Xmx4G -XX:+UseG1GC -jar neoforge-server.jar nogui"
	if got != want {
		t.Fatalf("args mismatch:\n got  %q\n want %q", got, want)
	}
}

func TestBuildCommandExplicitServerArgs(t *testing.T) {
	s := Spec{JarName: "s.jar", ServerArgs: []string{"--port", "25566"}}
	cmd := s.BuildCommand()
	got := strings.Join(cmd.Args, " ")
	if strings.Contains(got, "nogui") {
		t.Fatalf("nogui must not be appended when server args given: %q", got)
	}
	if !strings.HasSuffix(got, "-jar s.jar --port 25566") {
		t.Fatalf("unexpected args: %q", got)
	}
}

func TestBuildCommandNoMemoryFlags(t *testing.T) {
	s := Spec{JarName: "s.jar"}
	got := strings.Join(s.BuildCommand().Args, " ")
	if strings.Contains(got, "-Xms") || strings.Contains(got, "-Xmx") {
		t.Fatalf("memory flags present without config: %q", got)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	jar := filepath.Join(dir, "server.jar")
	if err := os.WriteFile(jar, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"ok", Spec{Name: "s", ServerDir: dir, JarName: "server.jar"}, false},
		{"missing name", Spec{ServerDir: dir, JarName: "server.jar"}, true},
		{"missing dir", Spec{Name: "s", JarName: "server.jar"}, true},
		{"dir not exist", Spec{Name: "s", ServerDir: filepath.Join(dir, "nope"), JarName: "server.jar"}, true},
		{"missing jar name", Spec{Name: "s", ServerDir: dir}, true},
		{"jar not exist", Spec{Name: "s", ServerDir: dir, JarName: "other.jar"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSpecDefaults(t *testing.T) {
	s := Spec{Name: "srv", ServerDir: "/srv/mc"}
	if s.stopCommand() != "stop" {
		t.Fatalf("default stop command: %q", s.stopCommand())
	}
	if s.stopTimeout() != DefaultStopTimeout {
		t.Fatalf("default stop timeout: %v", s.stopTimeout())
	}
	if got := s.pidFilePath(); got != "/srv/mc/srv.pid" {
		t.Fatalf("pid file path: %q", got)
	}
	if got := s.lockFilePath(); got != "/srv/mc/srv.lock" {
		t.Fatalf("lock file path: %q", got)
	}

	s.StopCommand = "end"
	s.StopTimeout = 3 * time.Second
	s.PIDFile = "/run/x.pid"
	s.LockFile = "/run/x.lock"
	if s.stopCommand() != "end" || s.stopTimeout() != 3*time.Second {
		t.Fatalf("overrides not honored")
	}
	if s.pidFilePath() != "/run/x.pid" || s.lockFilePath() != "/run/x.lock" {
		t.Fatalf("path overrides not honored")
	}
}
