// Package metrics exposes prometheus instrumentation for engine operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine's prometheus collectors on a private registry
// so embedding applications can scrape or merge them as they see fit.
type Metrics struct {
	registry *prometheus.Registry

	pluginOps     *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	hookFailures  *prometheus.CounterVec
	middlewareOps *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.pluginOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ldesign",
		Subsystem: "engine",
		Name:      "plugin_operations_total",
		Help:      "Plugin install/uninstall operations by result.",
	}, []string{"operation", "result"})

	m.phaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ldesign",
		Subsystem: "engine",
		Name:      "lifecycle_phase_duration_seconds",
		Help:      "Duration of lifecycle phase executions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"phase"})

	m.hookFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ldesign",
		Subsystem: "engine",
		Name:      "lifecycle_hook_failures_total",
		Help:      "Lifecycle hook failures by phase.",
	}, []string{"phase"})

	m.middlewareOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ldesign",
		Subsystem: "engine",
		Name:      "middleware_executions_total",
		Help:      "Middleware chain executions by hook and result.",
	}, []string{"hook", "result"})

	m.registry.MustRegister(m.pluginOps, m.phaseDuration, m.hookFailures, m.middlewareOps)
	return m
}

// Registry returns the registry holding the engine collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPluginOp counts an install or uninstall outcome.
func (m *Metrics) RecordPluginOp(operation string, err error) {
	m.pluginOps.WithLabelValues(operation, resultLabel(err)).Inc()
}

// ObservePhase records a phase execution duration and any hook failure.
func (m *Metrics) ObservePhase(phase string, duration time.Duration, failed bool) {
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
	if failed {
		m.hookFailures.WithLabelValues(phase).Inc()
	}
}

// RecordMiddleware counts a middleware chain execution outcome.
func (m *Metrics) RecordMiddleware(hook string, err error) {
	m.middlewareOps.WithLabelValues(hook, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
