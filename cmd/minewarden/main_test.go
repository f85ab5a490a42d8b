package main

import (
	"testing"
)

func TestBuildRootRegistersCommands(t *testing.T) {
	root := buildRoot()

	want := []string{"serve", "start", "stop", "restart", "reset", "status", "send", "backup", "backups", "history"}
	have := map[string]bool{}
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestServeRequiresConfig(t *testing.T) {
	if err := runServe(&ServeFlags{}); err == nil {
		t.Fatalf("serve without config must error")
	}
}

func TestClientCommandFlags(t *testing.T) {
	root := buildRoot()
	for _, name := range []string{"start", "stop", "status", "send", "history"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil {
			t.Fatalf("find %s: %v", name, err)
		}
		if cmd.Flags().Lookup("api-url") == nil {
			t.Errorf("%s missing --api-url flag", name)
		}
		if cmd.Flags().Lookup("api-timeout") == nil {
			t.Errorf("%s missing --api-timeout flag", name)
		}
	}
}
