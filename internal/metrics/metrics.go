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

	botStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "starts_total",
			Help:      "Number of successful bot starts.",
		}, []string{"name"},
	)
	botStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"name"},
	)
	botKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "kills_total",
			Help:      "Number of stops that escalated to a forced kill after the grace period.",
		}, []string{"name"},
	)
	botStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "start_failures_total",
			Help:      "Number of failed start attempts by reason.",
		}, []string{"name", "reason"},
	)
	stopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "stop_duration_seconds",
			Help:      "Time from the stop request until the process was gone.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	runningBots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "running",
			Help:      "Number of bots currently marked running.",
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between different bot states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "current_state",
			Help:      "Current state of bots (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	logEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "log",
			Name:      "entries_total",
			Help:      "Number of entries appended to the shared log ring.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{botStarts, botStops, botKills, botStartFailures, stopDuration, runningBots, stateTransitions, currentStates, logEntries}
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

func IncStart(name string) {
	if regOK.Load() {
		botStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		botStops.WithLabelValues(name).Inc()
	}
}

func IncKill(name string) {
	if regOK.Load() {
		botKills.WithLabelValues(name).Inc()
	}
}

func IncStartFailure(name, reason string) {
	if regOK.Load() {
		botStartFailures.WithLabelValues(name, reason).Inc()
	}
}

func ObserveStopDuration(name string, seconds float64) {
	if regOK.Load() {
		stopDuration.WithLabelValues(name).Observe(seconds)
	}
}

func SetRunning(n int) {
	if regOK.Load() {
		runningBots.Set(float64(n))
	}
}

func IncLogEntries() {
	if regOK.Load() {
		logEntries.Inc()
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}
