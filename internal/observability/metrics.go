package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Sanduku.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Sandbox metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration *prometheus.HistogramVec
	SandboxTimeoutsTotal     *prometheus.CounterVec

	// Classifier metrics.
	ClassifierDecisionsTotal *prometheus.CounterVec

	// Session metrics.
	SessionsActive prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandbox executions.",
		}, []string{"backend", "status"}),

		SandboxExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sanduku",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandbox execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 120},
		}, []string{"backend"}),

		SandboxTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "sandbox",
			Name:      "timeouts_total",
			Help:      "Total commands killed by the execution deadline.",
		}, []string{"backend"}),

		ClassifierDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "classifier",
			Name:      "decisions_total",
			Help:      "Total command classification decisions.",
		}, []string{"decision"}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sanduku",
			Name:      "sessions_active",
			Help:      "Number of currently open sandbox sessions.",
		}),
	}

	reg.MustRegister(
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.SandboxTimeoutsTotal,
		m.ClassifierDecisionsTotal,
		m.SessionsActive,
	)

	return m
}

// RecordDecision increments the classifier decision counter.
// Safe to call on a nil collector.
func (m *MetricsCollector) RecordDecision(decision string) {
	if m == nil {
		return
	}
	m.ClassifierDecisionsTotal.WithLabelValues(decision).Inc()
}
