package obs

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zendesk_datasource"

type MetricsConfig struct {
	HotKeys           int
	RecomputeInterval time.Duration
	UpstreamWindow    time.Duration
}

type Metrics struct {
	registry         *prometheus.Registry
	hotKeys          *TopK
	upstreamWindow   *rollingCounter
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	cacheHotKeyHits  *prometheus.CounterVec
	cacheEvictions   *prometheus.CounterVec
	cacheSize        prometheus.Gauge
	invalidations    *prometheus.CounterVec
	batches          *prometheus.CounterVec
	batchSize        *prometheus.HistogramVec
	batchDuration    *prometheus.HistogramVec
	batcherCleared   prometheus.Counter
	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	upstreamHealthy  prometheus.Gauge
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests served",
	}, []string{"route", "status_class"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Total cache lookups by query kind and outcome",
	}, []string{"kind", "status"})

	cacheHotKeyHits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hot_key_lookups_total",
		Help:      "Cache lookups for the most requested keys; the rest are counted as other",
	}, []string{"key"})

	cacheEvictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_evictions_total",
		Help:      "Total cache removals by reason",
	}, []string{"reason"})

	cacheSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Current number of cache entries",
	})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_invalidated_entries_total",
		Help:      "Total entries removed by explicit invalidation",
	}, []string{"kind"})

	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_total",
		Help:      "Total coalesced upstream batches",
	}, []string{"kind", "trigger", "result"})

	batchSize := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_size",
		Help:      "Callers per coalesced batch",
		Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
	}, []string{"kind"})

	batchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_duration_seconds",
		Help:      "Upstream time per coalesced batch",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	batcherCleared := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batcher_cleared_callers_total",
		Help:      "Callers failed because their window was cleared",
	})

	upstreamRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Total requests sent to the ticketing API",
	}, []string{"endpoint", "status_class"})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "Ticketing API round trip duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	upstreamHealthy := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upstream_healthy",
		Help:      "1 when the last health probes against the ticketing API succeeded",
	})

	registry.MustRegister(requests, requestDuration, cacheLookups, cacheHotKeyHits, cacheEvictions, cacheSize, invalidations, batches, batchSize, batchDuration, batcherCleared, upstreamRequests, upstreamLatency, upstreamHealthy)

	return &Metrics{
		registry:         registry,
		hotKeys:          NewTopK(cfg.HotKeys, cfg.RecomputeInterval),
		upstreamWindow:   newRollingCounter(cfg.UpstreamWindow),
		requests:         requests,
		requestDuration:  requestDuration,
		cacheLookups:     cacheLookups,
		cacheHotKeyHits:  cacheHotKeyHits,
		cacheEvictions:   cacheEvictions,
		cacheSize:        cacheSize,
		invalidations:    invalidations,
		batches:          batches,
		batchSize:        batchSize,
		batchDuration:    batchDuration,
		batcherCleared:   batcherCleared,
		upstreamRequests: upstreamRequests,
		upstreamLatency:  upstreamLatency,
		upstreamHealthy:  upstreamHealthy,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	route = defaultString(route, "unmatched")
	m.requests.WithLabelValues(route, statusClass(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *Metrics) RecordCacheLookup(kind string, status string, key string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.cacheLookups.WithLabelValues(defaultString(kind, "unknown"), defaultString(status, "unknown")).Inc()
	if key != "" {
		m.hotKeys.Observe(key)
		m.cacheHotKeyHits.WithLabelValues(m.hotKeys.Canon(key)).Inc()
	}
}

func (m *Metrics) RecordEviction(reason string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.cacheEvictions.WithLabelValues(defaultString(reason, "unknown")).Inc()
}

func (m *Metrics) SetCacheSize(size int) {
	if m == nil {
		return
	}
	m.cacheSize.Set(float64(size))
}

func (m *Metrics) RecordInvalidation(kind string, removed int) {
	if m == nil || removed <= 0 {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.invalidations.WithLabelValues(defaultString(kind, "pattern")).Add(float64(removed))
}

func (m *Metrics) ObserveBatch(kind string, trigger string, size int, err error, duration time.Duration) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	kind = defaultString(kind, "unknown")
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.batches.WithLabelValues(kind, defaultString(trigger, "unknown"), result).Inc()
	m.batchSize.WithLabelValues(kind).Observe(float64(size))
	m.batchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) RecordCleared(callers int) {
	if m == nil || callers <= 0 {
		return
	}
	m.batcherCleared.Add(float64(callers))
}

func (m *Metrics) ObserveUpstream(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	endpoint = defaultString(endpoint, "unknown")
	m.upstreamWindow.Record(status)
	m.upstreamRequests.WithLabelValues(endpoint, statusClass(status)).Inc()
	m.upstreamLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Metrics) SetUpstreamHealthy(healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.upstreamHealthy.Set(value)
}

// UpstreamCounts returns upstream requests and failures seen within window.
func (m *Metrics) UpstreamCounts(window time.Duration) (int, int) {
	if m == nil {
		return 0, 0
	}
	return m.upstreamWindow.Counts(window)
}

// HotKeys returns the most requested cache keys.
func (m *Metrics) HotKeys(n int) []KeyCount {
	if m == nil {
		return nil
	}
	return m.hotKeys.Top(n)
}

func statusClass(status int) string {
	if status <= 0 {
		return "unknown"
	}
	class := status / 100
	return fmt.Sprintf("%dxx", class)
}
