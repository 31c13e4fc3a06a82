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

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidewatch",
			Subsystem: "backend",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle state transitions.",
		}, []string{"name", "from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sidewatch",
			Subsystem: "backend",
			Name:      "current_state",
			Help:      "Current lifecycle state (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	healthProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidewatch",
			Subsystem: "backend",
			Name:      "health_probes_total",
			Help:      "Number of health probes by result.",
		}, []string{"name", "result"},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sidewatch",
			Subsystem: "backend",
			Name:      "health_probe_duration_seconds",
			Help:      "Health probe round-trip time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidewatch",
			Subsystem: "backend",
			Name:      "restarts_total",
			Help:      "Number of restart attempts after a crash.",
		}, []string{"name"},
	)
	starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidewatch",
			Subsystem: "backend",
			Name:      "starts_total",
			Help:      "Number of successful backend spawns.",
		}, []string{"name"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidewatch",
			Subsystem: "backend",
			Name:      "stops_total",
			Help:      "Number of backend terminations (clean or forced).",
		}, []string{"name"},
	)
	flushAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidewatch",
			Subsystem: "backend",
			Name:      "shutdown_flush_total",
			Help:      "Number of pre-shutdown flush attempts by outcome.",
		}, []string{"name", "outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{stateTransitions, currentState, healthProbes, probeDuration, restarts, starts, stops, flushAttempts}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler returns an http.Handler serving Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var v float64
		if active {
			v = 1
		}
		currentState.WithLabelValues(name, state).Set(v)
	}
}

func ObserveProbe(name string, seconds float64, ok bool) {
	if regOK.Load() {
		result := "failure"
		if ok {
			result = "success"
		}
		healthProbes.WithLabelValues(name, result).Inc()
		probeDuration.WithLabelValues(name).Observe(seconds)
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		restarts.WithLabelValues(name).Inc()
	}
}

func IncStart(name string) {
	if regOK.Load() {
		starts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		stops.WithLabelValues(name).Inc()
	}
}

func IncFlush(name, outcome string) {
	if regOK.Load() {
		flushAttempts.WithLabelValues(name, outcome).Inc()
	}
}
