package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	SetHealthScore("srv", 85)
	SetResourceUsage("srv", 42.5, 1024)
	SetPortOpen("srv", true)
	IncCheck("srv")
	IncCheck("srv")
	IncRestart("srv", "success")
	IncBackup("srv", "failed")
	RecordStateTransition("srv", "stopped", "monitoring")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"minewarden_server_health_score":              false,
		"minewarden_server_cpu_percent":               false,
		"minewarden_server_memory_mb":                 false,
		"minewarden_server_port_open":                 false,
		"minewarden_watchdog_checks_total":            false,
		"minewarden_watchdog_restarts_total":          false,
		"minewarden_backup_snapshots_total":           false,
		"minewarden_watchdog_state":                   false,
		"minewarden_watchdog_state_transitions_total": false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestStateTransitionFlipsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	RecordStateTransition("srv2", "monitoring", "restarting")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "minewarden_watchdog_state" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var server, state string
			for _, l := range m.GetLabel() {
				switch l.GetName() {
				case "server":
					server = l.GetValue()
				case "state":
					state = l.GetValue()
				}
			}
			if server != "srv2" {
				continue
			}
			v := m.GetGauge().GetValue()
			switch state {
			case "monitoring":
				if v != 0 {
					t.Fatalf("old state gauge = %v, want 0", v)
				}
			case "restarting":
				if v != 1 {
					t.Fatalf("new state gauge = %v, want 1", v)
				}
			}
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	// Register may have already latched onto another registry in this
	// process; attach the gauge to the default one directly.
	if err := prometheus.DefaultRegisterer.Register(healthScore); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			t.Fatalf("register: %v", err)
		}
	}
	SetHealthScore("handler-test", 70)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "minewarden_server_health_score") {
		t.Fatalf("handler output missing health score metric")
	}
}
