// Package metrics exposes Prometheus instrumentation for the events service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chapel_cache_hits_total",
		Help: "Total number of cache reads served from memory or mirror.",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chapel_cache_misses_total",
		Help: "Total number of cache reads that found no live entry.",
	})

	cacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chapel_cache_evictions_total",
		Help: "Total number of entries evicted on expiry.",
	})

	reconcilePassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chapel_reconcile_passes_total",
		Help: "Total number of reconciliation passes over event snapshots.",
	})

	reconcileCorrectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapel_reconcile_corrections_total",
		Help: "Total number of event corrections written, by kind.",
	}, []string{"kind"})

	feedPublishesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chapel_feed_publishes_total",
		Help: "Total number of snapshots published to feed subscribers.",
	})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapel_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chapel_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// CacheHit records a cache read served from a live entry.
func CacheHit() { cacheHitsTotal.Inc() }

// CacheMiss records a cache read that found nothing usable.
func CacheMiss() { cacheMissesTotal.Inc() }

// CacheEviction records an entry dropped on expiry.
func CacheEviction() { cacheEvictionsTotal.Inc() }

// ReconcilePass records one reconciliation pass.
func ReconcilePass() { reconcilePassesTotal.Inc() }

// ReconcileCorrection records one written correction of the given kind
// (backfill, weekday, lapse).
func ReconcileCorrection(kind string) { reconcileCorrectionsTotal.WithLabelValues(kind).Inc() }

// FeedPublish records one snapshot published to subscribers.
func FeedPublish() { feedPublishesTotal.Inc() }

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }

// statusRecorder captures the response code for request counters.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latencies.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
