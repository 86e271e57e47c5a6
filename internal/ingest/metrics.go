package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ingest counters exposed at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	EventsProcessed prometheus.Counter
	EventsSkipped   prometheus.Counter
	EventsErrored   prometheus.Counter
	Requests        *prometheus.CounterVec
}

// NewMetrics builds a registry with the ingest counters registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		EventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bilan_ingest_events_processed_total",
			Help: "Events successfully inserted into the store.",
		}),
		EventsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "bilan_ingest_events_skipped_total",
			Help: "Events skipped as duplicates of an existing event_id.",
		}),
		EventsErrored: factory.NewCounter(prometheus.CounterOpts{
			Name: "bilan_ingest_events_errored_total",
			Help: "Events rejected by validation.",
		}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bilan_ingest_http_requests_total",
			Help: "HTTP requests by path and status code.",
		}, []string{"path", "status"}),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
