// Package metrics exposes Prometheus instrumentation for the knowmesh services.
//
// Each Collector owns its registry, so any number of meshes (and tests) can
// coexist in one process without duplicate-registration panics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "knowmesh"

// Embedding lookup outcomes.
const (
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultFallback = "fallback"
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	registry *prometheus.Registry

	// Embedding cache
	EmbeddingLookups *prometheus.CounterVec
	ProviderCalls    prometheus.Counter
	ProviderErrors   prometheus.Counter
	ProviderTokens   prometheus.Counter
	ProviderDuration prometheus.Histogram
	CacheEntries     prometheus.Gauge
	CacheEvictions   prometheus.Counter

	// Search
	Searches        prometheus.Counter
	SearchDuration  prometheus.Histogram
	SearchPartial   prometheus.Counter
	QueryCacheHits  prometheus.Counter
	FeedbackSignals *prometheus.CounterVec

	// Network
	Nodes          prometheus.Gauge
	Edges          prometheus.Gauge
	Reinforcements prometheus.Counter

	// Prediction
	Insights           *prometheus.CounterVec
	Preloads           *prometheus.CounterVec
	PredictionAccuracy prometheus.Gauge

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()

	counter := func(subsystem, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
	}
	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
	}

	c := &Collector{
		registry: registry,

		EmbeddingLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "lookups_total",
			Help:      "Embedding lookups by outcome (hit, miss, fallback)",
		}, []string{"result"}),
		ProviderCalls:  counter("embedding", "provider_calls_total", "Calls made to the embedding provider"),
		ProviderErrors: counter("embedding", "provider_errors_total", "Failed embedding provider calls"),
		ProviderTokens: counter("embedding", "provider_tokens_total", "Tokens sent to the embedding provider"),
		ProviderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "provider_duration_seconds",
			Help:      "Embedding provider call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CacheEntries:   gauge("embedding", "cache_entries", "Entries held by the embedding cache"),
		CacheEvictions: counter("embedding", "cache_evictions_total", "Embedding cache entries evicted or expired"),

		Searches: counter("search", "requests_total", "Search requests"),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SearchPartial:  counter("search", "partial_total", "Searches that hit their deadline and returned partial results"),
		QueryCacheHits: counter("search", "query_cache_hits_total", "Searches answered from the query-result cache"),
		FeedbackSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "feedback_total",
			Help:      "Search feedback events by outcome",
		}, []string{"outcome"}),

		Nodes:          gauge("network", "nodes", "Nodes in the synaptic network"),
		Edges:          gauge("network", "edges", "Edges in the synaptic network"),
		Reinforcements: counter("network", "reinforcements_total", "Edge reinforcements applied"),

		Insights: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "predict",
			Name:      "insights_total",
			Help:      "Insights emitted by kind",
		}, []string{"kind"}),
		Preloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "predict",
			Name:      "preloads_total",
			Help:      "Preload manifests and warm-loads by result",
		}, []string{"result"}),
		PredictionAccuracy: gauge("predict", "accuracy", "Smoothed prediction accuracy"),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		c.EmbeddingLookups, c.ProviderCalls, c.ProviderErrors, c.ProviderTokens, c.ProviderDuration,
		c.CacheEntries, c.CacheEvictions,
		c.Searches, c.SearchDuration, c.SearchPartial, c.QueryCacheHits, c.FeedbackSignals,
		c.Nodes, c.Edges, c.Reinforcements,
		c.Insights, c.Preloads, c.PredictionAccuracy,
		c.HTTPRequests, c.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveSince records the seconds elapsed since start.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
