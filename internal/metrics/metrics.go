// Package metrics exposes worker counters and gauges on a dedicated
// Prometheus registry so the /metrics handler never inherits stray
// collectors from the default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the worker records into.
type Metrics struct {
	registry *prometheus.Registry

	ObservationsIngested  prometheus.Counter
	ObservationsDuplicate prometheus.Counter
	EmbeddingsGenerated   prometheus.Counter
	EmbeddingsDropped     prometheus.Counter
	SearchesServed        *prometheus.CounterVec
	SessionsCompleted     prometheus.Counter
	PluginHookErrors      *prometheus.CounterVec
	HTTPRequests          *prometheus.CounterVec
	HTTPDuration          *prometheus.HistogramVec

	SSEClients     prometheus.Gauge
	EmbedQueueSize prometheus.Gauge
	ActivePlugins  prometheus.Gauge
}

// New builds a registry with the Go runtime collectors plus the worker
// instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ObservationsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kiro_memory",
			Name:      "observations_ingested_total",
			Help:      "Observations accepted and stored.",
		}),
		ObservationsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kiro_memory",
			Name:      "observations_duplicate_total",
			Help:      "Observations rejected by the content-hash dedup window.",
		}),
		EmbeddingsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kiro_memory",
			Name:      "embeddings_generated_total",
			Help:      "Embedding vectors stored, including backfill.",
		}),
		EmbeddingsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kiro_memory",
			Name:      "embeddings_dropped_total",
			Help:      "Embedding jobs dropped because the queue was full or the engine failed.",
		}),
		SearchesServed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiro_memory",
			Name:      "searches_total",
			Help:      "Search requests served, by mode.",
		}, []string{"mode"}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kiro_memory",
			Name:      "sessions_completed_total",
			Help:      "Sessions transitioned from active to completed.",
		}),
		PluginHookErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiro_memory",
			Name:      "plugin_hook_errors_total",
			Help:      "Plugin hook invocations that failed or timed out.",
		}, []string{"plugin", "hook"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiro_memory",
			Name:      "http_requests_total",
			Help:      "HTTP requests handled, by route pattern and status class.",
		}, []string{"route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kiro_memory",
			Name:      "http_request_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		SSEClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kiro_memory",
			Name:      "sse_clients",
			Help:      "Connected event-stream clients.",
		}),
		EmbedQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kiro_memory",
			Name:      "embed_queue_size",
			Help:      "Embedding jobs waiting in the queue.",
		}),
		ActivePlugins: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kiro_memory",
			Name:      "active_plugins",
			Help:      "Plugins currently in the active state.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
