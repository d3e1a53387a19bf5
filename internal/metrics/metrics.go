// Package metrics holds the Prometheus instruments of the explorer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Query outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
	OutcomeRejected    = "rejected"
)

// Metrics is a set of instruments on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	queries         *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	recordsDropped  prometheus.Counter
	thinking        prometheus.Counter
}

// New registers the instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alkis_queries_total",
			Help: "Questions sent, by outcome.",
		}, []string{"outcome"}),
		backendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alkis_backend_request_duration_seconds",
			Help:    "Duration of backend calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"call"}),
		recordsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "alkis_records_dropped_total",
			Help: "Building records dropped because they could not be parsed.",
		}),
		thinking: f.NewCounter(prometheus.CounterOpts{
			Name: "alkis_thinking_messages_total",
			Help: "Intermediate progress notifications received from the backend.",
		}),
	}
}

// Query counts one Send by outcome.
func (m *Metrics) Query(outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
}

// ObserveBackend records how long a backend call ("health", "query", "stream") took.
func (m *Metrics) ObserveBackend(call string, d time.Duration) {
	if m == nil {
		return
	}
	m.backendDuration.WithLabelValues(call).Observe(d.Seconds())
}

// RecordsDropped counts dropped building records.
func (m *Metrics) RecordsDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsDropped.Add(float64(n))
}

// Thinking counts one progress notification.
func (m *Metrics) Thinking() {
	if m == nil {
		return
	}
	m.thinking.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
