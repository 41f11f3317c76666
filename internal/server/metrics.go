package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the API server. Each handler owns
// its registry so tests can construct handlers independently.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	staleFallbacks  prometheus.Counter
}

// NewMetrics creates a new Metrics instance with Prometheus collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promopilot_requests_total",
				Help: "Total number of API requests handled",
			},
			[]string{"endpoint", "status"},
		),

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promopilot_request_duration_seconds",
				Help:    "API request handling latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),

		staleFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "promopilot_stale_policy_fallbacks_total",
				Help: "Segments evaluated through the lowest-level fallback because the policy was unset or referenced a missing level",
			},
		),
	}
}

// ObserveRequest records one handled request.
func (m *Metrics) ObserveRequest(endpoint, status string, seconds float64) {
	m.requestsTotal.WithLabelValues(endpoint, status).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(seconds)
}

// ObserveStaleFallbacks adds to the stale-policy fallback counter.
func (m *Metrics) ObserveStaleFallbacks(count int) {
	if count > 0 {
		m.staleFallbacks.Add(float64(count))
	}
}

// Registry exposes the metrics registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
