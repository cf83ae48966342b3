// Package metrics provides Prometheus metrics for the discovery engine's
// caches and filters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricCacheLookupsTotal       = "cache_lookups_total"
	MetricRemoteReadsTotal        = "remote_reads_total"
	MetricRefreshDuration         = "cache_refresh_duration_seconds"
	MetricGeocodeResolutionsTotal = "geocode_resolutions_total"
	MetricDistanceResultsTotal    = "distance_results_total"
	MetricBackgroundWriteErrors   = "background_write_errors_total"
)

// Cache name constants for labeling.
const (
	CacheReference = "reference"
	CacheWindow    = "event_window"
)

// Lookup outcome constants.
const (
	OutcomeHit        = "hit"
	OutcomeMiss       = "miss"
	OutcomeStaleServe = "stale_serve"
)

// Geocode resolution outcome constants.
const (
	ResolutionCached     = "cached"
	ResolutionResolved   = "resolved"
	ResolutionUnresolved = "unresolved"
)

// Distance result path constants.
const (
	DistanceFromCache = "cache"
	DistanceComputed  = "computed"
)

// Metrics contains Prometheus metrics for the cache and filter engine.
// All operations are thread-safe.
type Metrics struct {
	cacheLookups    *prometheus.CounterVec
	remoteReads     *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	geocodeResults  *prometheus.CounterVec
	distanceResults *prometheus.CounterVec
	bgWriteErrors   *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCacheLookupsTotal,
				Help: "Total number of cache lookups by cache and outcome",
			},
			[]string{"cache", "outcome"},
		),
		remoteReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRemoteReadsTotal,
				Help: "Total number of remote store reads by collection",
			},
			[]string{"collection"},
		),
		refreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricRefreshDuration,
				Help:    "Histogram of cache refresh duration in seconds by cache",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
			},
			[]string{"cache"},
		),
		geocodeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricGeocodeResolutionsTotal,
				Help: "Total number of address resolutions by outcome",
			},
			[]string{"outcome"},
		),
		distanceResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDistanceResultsTotal,
				Help: "Total number of distance results by path (cache or computed)",
			},
			[]string{"path"},
		),
		bgWriteErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundWriteErrors,
				Help: "Total number of failed fire-and-forget device store writes by key",
			},
			[]string{"key"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncCacheLookup increments the cache lookup counter.
// cache: The cache name (e.g., CacheReference)
// outcome: The lookup outcome (OutcomeHit, OutcomeMiss, or OutcomeStaleServe)
func (m *Metrics) IncCacheLookup(cache, outcome string) {
	m.cacheLookups.WithLabelValues(cache, outcome).Inc()
}

// AddRemoteReads adds n to the remote read counter for a collection.
func (m *Metrics) AddRemoteReads(collection string, n int64) {
	if n > 0 {
		m.remoteReads.WithLabelValues(collection).Add(float64(n))
	}
}

// ObserveRefreshDuration records a refresh duration sample.
func (m *Metrics) ObserveRefreshDuration(cache string, seconds float64) {
	m.refreshDuration.WithLabelValues(cache).Observe(seconds)
}

// IncGeocodeResolution increments the geocode resolution counter.
func (m *Metrics) IncGeocodeResolution(outcome string) {
	m.geocodeResults.WithLabelValues(outcome).Inc()
}

// IncDistanceResult increments the distance result counter.
func (m *Metrics) IncDistanceResult(path string) {
	m.distanceResults.WithLabelValues(path).Inc()
}

// IncBackgroundWriteError increments the failed background write counter.
func (m *Metrics) IncBackgroundWriteError(key string) {
	m.bgWriteErrors.WithLabelValues(key).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.cacheLookups,
		m.remoteReads,
		m.refreshDuration,
		m.geocodeResults,
		m.distanceResults,
		m.bgWriteErrors,
	}
}
