package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	healthScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "minewarden",
			Subsystem: "server",
			Name:      "health_score",
			Help:      "Latest health score (0-100) of the supervised server.",
		}, []string{"server"},
	)
	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "minewarden",
			Subsystem: "server",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the supervised server.",
		}, []string{"server"},
	)
	memoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "minewarden",
			Subsystem: "server",
			Name:      "memory_mb",
			Help:      "Resident memory in MB of the supervised server.",
		}, []string{"server"},
	)
	portOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "minewarden",
			Subsystem: "server",
			Name:      "port_open",
			Help:      "Whether the TCP liveness probe succeeded (1) or failed (0).",
		}, []string{"server"},
	)
	checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minewarden",
			Subsystem: "watchdog",
			Name:      "checks_total",
			Help:      "Number of watchdog health checks performed.",
		}, []string{"server"},
	)
	restartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minewarden",
			Subsystem: "watchdog",
			Name:      "restarts_total",
			Help:      "Number of restart attempts, labeled by outcome.",
		}, []string{"server", "outcome"},
	)
	backupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minewarden",
			Subsystem: "backup",
			Name:      "snapshots_total",
			Help:      "Number of backup snapshots, labeled by outcome.",
		}, []string{"server", "outcome"},
	)
	watchdogState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "minewarden",
			Subsystem: "watchdog",
			Name:      "state",
			Help:      "Current watchdog state (1 = active state, 0 = inactive).",
		}, []string{"server", "state"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minewarden",
			Subsystem: "watchdog",
			Name:      "state_transitions_total",
			Help:      "Number of watchdog state transitions.",
		}, []string{"server", "from", "to"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{healthScore, cpuPercent, memoryMB, portOpen, checksTotal, restartsTotal, backupsTotal, watchdogState, stateTransitions}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func SetHealthScore(server string, score int) {
	if regOK.Load() {
		healthScore.WithLabelValues(server).Set(float64(score))
	}
}

func SetResourceUsage(server string, cpu, memMB float64) {
	if regOK.Load() {
		cpuPercent.WithLabelValues(server).Set(cpu)
		memoryMB.WithLabelValues(server).Set(memMB)
	}
}

func SetPortOpen(server string, open bool) {
	if regOK.Load() {
		v := 0.0
		if open {
			v = 1
		}
		portOpen.WithLabelValues(server).Set(v)
	}
}

func IncCheck(server string) {
	if regOK.Load() {
		checksTotal.WithLabelValues(server).Inc()
	}
}

func IncRestart(server, outcome string) {
	if regOK.Load() {
		restartsTotal.WithLabelValues(server, outcome).Inc()
	}
}

func IncBackup(server, outcome string) {
	if regOK.Load() {
		backupsTotal.WithLabelValues(server, outcome).Inc()
	}
}

func RecordStateTransition(server, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(server, from, to).Inc()
		watchdogState.WithLabelValues(server, from).Set(0)
		watchdogState.WithLabelValues(server, to).Set(1)
	}
}
