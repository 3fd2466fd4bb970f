// Package metrics exposes Prometheus instrumentation for the ChainEquity
// cap-table indexer: sync progress, RPC usage, and HTTP serving. A single
// Metrics instance is created at startup and shared by the subsystems; the
// registry is served by the API server at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "chainequity"

// Metrics holds every instrument family the indexer records.
type Metrics struct {
	registry *prometheus.Registry

	// Indexer.
	EventsIndexed   *prometheus.CounterVec // by event_type
	SyncPasses      prometheus.Counter
	SyncFailures    prometheus.Counter
	Reconnects      prometheus.Counter
	LastSyncedBlock prometheus.Gauge
	SyncDuration    prometheus.Histogram

	// Chain client.
	RPCRequests *prometheus.CounterVec // by method
	RPCErrors   *prometheus.CounterVec // by method

	// HTTP API.
	HTTPRequests *prometheus.CounterVec   // by route, code
	HTTPDuration *prometheus.HistogramVec // by route
}

// New creates a Metrics instance backed by its own registry, with Go runtime
// and process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		EventsIndexed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_indexed_total",
			Help:      "Events persisted to the store, by event type.",
		}, []string{"event_type"}),
		SyncPasses: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sync_passes_total",
			Help:      "Completed sync passes.",
		}),
		SyncFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sync_failures_total",
			Help:      "Sync passes that failed and will be retried.",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reconnects_total",
			Help:      "Subscription reconnect attempts.",
		}),
		LastSyncedBlock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_synced_block",
			Help:      "Highest block whose events are fully persisted.",
		}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "sync_pass_duration_seconds",
			Help:      "Wall time of one sync pass, gather and commit included.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),

		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rpc_requests_total",
			Help:      "Outbound RPC calls, by method.",
		}, []string{"method"}),
		RPCErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rpc_errors_total",
			Help:      "Outbound RPC calls that returned an error, by method.",
		}, []string{"method"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler returns the Prometheus exposition handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
