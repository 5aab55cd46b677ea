package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the content cache method being instrumented.
type CacheOperation string

const (
	CacheOperationLookup CacheOperation = "lookup"
	CacheOperationStore  CacheOperation = "store"
	CacheOperationClear  CacheOperation = "clear"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupStale indicates an entry existed but predates the freshness timestamp.
	CacheLookupStale CacheLookupOutcome = "stale"
	CacheLookupMiss  CacheLookupOutcome = "miss"
	// CacheLookupBypass indicates the request was not allowed to read the cache.
	CacheLookupBypass CacheLookupOutcome = "bypass"
)

// CacheStoreOutcome captures the result of a cache store attempt.
type CacheStoreOutcome string

const (
	CacheStoreStored  CacheStoreOutcome = "stored"
	CacheStoreSkipped CacheStoreOutcome = "skipped"
	CacheStoreError   CacheStoreOutcome = "error"
)

// Recorder publishes Prometheus metrics for page serving activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	pageRequests *prometheus.CounterVec
	pageLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	spamReferrers *prometheus.CounterVec
	hitsFlushed   *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	pageRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagectrl",
		Subsystem: "page",
		Name:      "requests_total",
		Help:      "Total page requests processed by the pipeline.",
	}, []string{"kind", "status_code", "from_cache"})

	pageLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pagectrl",
		Subsystem: "page",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed page requests.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"kind"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagectrl",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Content cache operations executed by the pipeline.",
	}, []string{"cache", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pagectrl",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for content cache operations.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	}, []string{"cache", "operation", "result"})

	spamReferrers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagectrl",
		Subsystem: "referrer",
		Name:      "spam_total",
		Help:      "Requests rejected because the referrer was classified as spam.",
	}, []string{"weblog"})

	hitsFlushed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagectrl",
		Subsystem: "hits",
		Name:      "flushed_total",
		Help:      "Page hits handed to the hit count store.",
	}, []string{"result"})

	reg.MustRegister(pageRequests, pageLatency, cacheOperations, cacheLatency, spamReferrers, hitsFlushed)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		pageRequests:    pageRequests,
		pageLatency:     pageLatency,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
		spamReferrers:   spamReferrers,
		hitsFlushed:     hitsFlushed,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObservePage records the status and latency for a completed page request.
func (r *Recorder) ObservePage(kind string, statusCode int, fromCache bool, duration time.Duration) {
	if r == nil {
		return
	}
	kindLabel := normalizeLabel(kind)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.pageRequests.WithLabelValues(kindLabel, statusLabel, strconv.FormatBool(fromCache)).Inc()
	r.pageLatency.WithLabelValues(kindLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(cache string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(normalizeLabel(cache), CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a cache store attempt.
func (r *Recorder) ObserveCacheStore(cache string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(normalizeLabel(cache), CacheOperationStore, resultLabel, duration)
}

// ObserveCacheClear records a tenant-scope or full cache clear.
func (r *Recorder) ObserveCacheClear(cache string, scope string, duration time.Duration) {
	if r == nil {
		return
	}
	r.observeCache(normalizeLabel(cache), CacheOperationClear, scope, duration)
}

// ObserveSpamReferrer counts a request rejected by the referrer classifier.
func (r *Recorder) ObserveSpamReferrer(weblog string) {
	if r == nil {
		return
	}
	r.spamReferrers.WithLabelValues(normalizeLabel(weblog)).Inc()
}

// ObserveHitsFlushed records how many hits a flush handed to the store.
func (r *Recorder) ObserveHitsFlushed(count int, err error) {
	if r == nil || count <= 0 {
		return
	}
	result := "stored"
	if err != nil {
		result = "error"
	}
	r.hitsFlushed.WithLabelValues(result).Add(float64(count))
}

func (r *Recorder) observeCache(cache string, operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(cache, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(cache, opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
