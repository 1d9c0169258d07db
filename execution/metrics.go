package execution

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the orchestrator. All metrics use the
// agentbox_execution_ namespace.
type Metrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ActiveExecutions  prometheus.Gauge
	ProviderErrors    *prometheus.CounterVec
	Retries           *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics on reg. Returns nil if reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentbox",
			Subsystem: "execution",
			Name:      "total",
			Help:      "Total executions by provider and final status.",
		}, []string{"provider", "status"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentbox",
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Execution running time in seconds by provider and final status.",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
		}, []string{"provider", "status"}),

		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentbox",
			Subsystem: "execution",
			Name:      "active",
			Help:      "Number of executions that have not reached a terminal status.",
		}),

		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentbox",
			Subsystem: "execution",
			Name:      "provider_errors_total",
			Help:      "Provider operation failures by provider, operation and error kind.",
		}, []string{"provider", "operation", "kind"}),

		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentbox",
			Subsystem: "execution",
			Name:      "retries_total",
			Help:      "Retried provider operations by provider and operation.",
		}, []string{"provider", "operation"}),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ActiveExecutions,
		m.ProviderErrors,
		m.Retries,
	)

	return m
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.ActiveExecutions.Inc()
}

func (m *Metrics) finished(provider ProviderKind, status Status, seconds float64) {
	if m == nil {
		return
	}
	m.ActiveExecutions.Dec()
	m.ExecutionsTotal.WithLabelValues(string(provider), string(status)).Inc()
	if seconds > 0 {
		m.ExecutionDuration.WithLabelValues(string(provider), string(status)).Observe(seconds)
	}
}

func (m *Metrics) providerError(provider ProviderKind, op string, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(string(provider), op, kind).Inc()
}

func (m *Metrics) retried(provider ProviderKind, op string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(string(provider), op).Inc()
}
