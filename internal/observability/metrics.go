// Package observability exposes the Prometheus metrics of the tile
// server.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	queryBuildSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tile_query_build_seconds",
			Help:    "Time spent assembling the per-tile SQL statement.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		},
	)

	tilesServedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiles_served_bytes_total",
			Help: "Total tile payload bytes produced, before and after compression.",
		},
		[]string{"stage"},
	)

	tileResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_results_total",
			Help: "Tile requests by orchestrator result code.",
		},
		[]string{"res"},
	)

	cacheOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Duration of cache operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "outcome"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	invalidationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invalidation_duration_seconds",
			Help:    "Duration of cache invalidation events in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"op", "outcome"},
	)

	invalidationKeys = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_keys_total",
			Help: "Total cache keys purged by invalidation events.",
		},
		[]string{"op"},
	)

	consumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func ObserveQueryBuild(durationSeconds float64) {
	queryBuildSeconds.Observe(durationSeconds)
}

func AddTileBytes(stage string, n int) {
	tilesServedBytes.WithLabelValues(stage).Add(float64(n))
}

func IncTileResult(res int) {
	tileResults.WithLabelValues(strconv.Itoa(res)).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cacheOpSeconds.WithLabelValues(op, outcome).Observe(durationSeconds)
}

func IncCacheHit() {
	cacheResults.WithLabelValues("hit").Inc()
}

func IncCacheMiss() {
	cacheResults.WithLabelValues("miss").Inc()
}

func ObserveInvalidation(op string, keys int, durationSeconds float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	invalidationSeconds.WithLabelValues(op, outcome).Observe(durationSeconds)
	if err == nil {
		invalidationKeys.WithLabelValues(op).Add(float64(keys))
	}
}

func IncConsumerError(kind string) {
	consumerErrors.WithLabelValues(kind).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
