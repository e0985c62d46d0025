// Package metrics holds the process-wide Prometheus registry and the
// collectors shared across the cache, executor, and HTTP adapter, the same
// single-registry-plus-package-level-vars shape the teacher's
// pkg/metrics package uses.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this module registers.
var Registry = prometheus.NewRegistry()

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchpost",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchpost",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watchpost",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"method", "path"})

	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "watchpost",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Cache reads that found a live entry.",
	})

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "watchpost",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache reads that found no usable entry.",
	})

	cacheGraceReads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "watchpost",
		Subsystem: "cache",
		Name:      "grace_reads_total",
		Help:      "Cache reads that served one expired entry before it was evicted.",
	})

	cacheStores = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "watchpost",
		Subsystem: "cache",
		Name:      "stores_total",
		Help:      "Entries written to the cache.",
	})

	pollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "watchpost",
		Subsystem: "engine",
		Name:      "poll_duration_seconds",
		Help:      "Duration of one full engine poll cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	pollResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchpost",
		Subsystem: "engine",
		Name:      "poll_results_total",
		Help:      "Results emitted by the engine, by state.",
	}, []string{"state"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		cacheHits,
		cacheMisses,
		cacheGraceReads,
		cacheStores,
		pollDuration,
		pollResults,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// RecordCacheHit counts a cache read that returned a live entry.
func RecordCacheHit() { cacheHits.Inc() }

// RecordCacheMiss counts a cache read that found nothing usable.
func RecordCacheMiss() { cacheMisses.Inc() }

// RecordCacheGraceRead counts a cache read that served one expired entry
// before evicting it (spec §4.2's grace-read policy).
func RecordCacheGraceRead() { cacheGraceReads.Inc() }

// RecordCacheStore counts an entry written to the cache.
func RecordCacheStore() { cacheStores.Inc() }

// RecordPoll records one full poll cycle's wall-clock duration and the
// per-state count of results it produced.
func RecordPoll(duration time.Duration, stateCounts map[string]int) {
	pollDuration.Observe(duration.Seconds())
	for state, n := range stateCounts {
		pollResults.WithLabelValues(state).Add(float64(n))
	}
}

var (
	executorGaugesMu sync.Mutex
	executorGauges   = map[string]prometheus.Collector{}
)

// RegisterExecutorGaugeFunc registers a GaugeFunc that reports one of the
// executor's rolling statistics fields, called lazily at scrape time rather
// than pushed, matching how the running/completed/errored counters are
// actually owned by the executor, not by this package. Re-registering the
// same name (a new Service wrapping a new Engine) replaces the prior
// collector rather than panicking on a duplicate registration.
func RegisterExecutorGaugeFunc(name, help string, fn func() float64) {
	executorGaugesMu.Lock()
	defer executorGaugesMu.Unlock()

	if old, ok := executorGauges[name]; ok {
		Registry.Unregister(old)
	}
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "watchpost",
		Subsystem: "executor",
		Name:      name,
		Help:      help,
	}, fn)
	Registry.MustRegister(gauge)
	executorGauges[name] = gauge
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with request-count/duration/in-flight
// instrumentation, skipping the /metrics endpoint itself.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(strings.ToUpper(r.Method), r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(strings.ToUpper(r.Method), r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
