// Package metrics exposes Prometheus collectors for the tile caches.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors. All methods are safe on a nil *Metrics,
// which records nothing.
type Metrics struct {
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	tileBuilds      *prometheus.CounterVec
	buildDuration   *prometheus.HistogramVec
	removals        *prometheus.CounterVec
	cleanupFailures *prometheus.CounterVec
	usedBytes       *prometheus.GaugeVec
	entries         *prometheus.GaugeVec
	inFlight        *prometheus.GaugeVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tile_cache_hits_total",
			Help: "Total number of tile cache hits",
		}, []string{"layer"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tile_cache_misses_total",
			Help: "Total number of tile cache misses",
		}, []string{"layer"}),
		tileBuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tile_builds_total",
			Help: "Total number of tile factory invocations",
		}, []string{"layer", "result"}),
		buildDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tile_build_duration_seconds",
			Help:    "Duration of tile factory invocations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"layer"}),
		removals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tile_cache_removals_total",
			Help: "Total number of entries removed from the tile cache",
		}, []string{"layer"}),
		cleanupFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tile_cache_cleanup_failures_total",
			Help: "Total number of failed cleanups of removed tiles",
		}, []string{"layer"}),
		usedBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tile_cache_used_bytes",
			Help: "Aggregate size of cached tiles",
		}, []string{"layer"}),
		entries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tile_cache_entries",
			Help: "Number of cached tiles",
		}, []string{"layer"}),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tile_builds_in_flight",
			Help: "Number of tile constructions in progress",
		}, []string{"layer"}),
	}
}

func (m *Metrics) Hit(layer string) {
	if m != nil {
		m.cacheHits.WithLabelValues(layer).Inc()
	}
}

func (m *Metrics) Miss(layer string) {
	if m != nil {
		m.cacheMisses.WithLabelValues(layer).Inc()
	}
}

// BuildStarted marks a construction in flight and returns the function
// that records its outcome.
func (m *Metrics) BuildStarted(layer string) func(err error) {
	if m == nil {
		return func(error) {}
	}
	m.inFlight.WithLabelValues(layer).Inc()
	timer := prometheus.NewTimer(m.buildDuration.WithLabelValues(layer))
	return func(err error) {
		timer.ObserveDuration()
		m.inFlight.WithLabelValues(layer).Dec()
		result := "ok"
		if err != nil {
			result = "error"
		}
		m.tileBuilds.WithLabelValues(layer, result).Inc()
	}
}

// Occupancy sets the cache gauges.
func (m *Metrics) Occupancy(layer string, usedBytes int64, entries int) {
	if m != nil {
		m.usedBytes.WithLabelValues(layer).Set(float64(usedBytes))
		m.entries.WithLabelValues(layer).Set(float64(entries))
	}
}
