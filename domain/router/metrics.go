package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_queries_total",
		Help: "Routed queries by intent kind and outcome",
	}, []string{"kind", "outcome"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_query_duration_seconds",
		Help:    "Per-layer query latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"layer"})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_cache_hits_total",
		Help: "Query results served from the cache",
	})

	degradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_degraded_queries_total",
		Help: "Hybrid queries that returned a single surviving branch",
	})
)
