package metrics

import (
	"tilepyramid/internal/cache"
)

// Instrument wraps a cache listener so every removal and every failed
// cleanup is counted for layer. inner may be nil.
func Instrument[V any](m *Metrics, layer string, inner cache.Listener[string, V]) cache.Listener[string, V] {
	return &instrumented[V]{metrics: m, layer: layer, inner: inner}
}

type instrumented[V any] struct {
	metrics *Metrics
	layer   string
	inner   cache.Listener[string, V]
}

func (l *instrumented[V]) EntryRemoved(key string, value V) error {
	if l.metrics != nil {
		l.metrics.removals.WithLabelValues(l.layer).Inc()
	}
	if l.inner == nil {
		return nil
	}
	return l.inner.EntryRemoved(key, value)
}

func (l *instrumented[V]) RemovalError(err error, key string, value V) {
	if l.metrics != nil {
		l.metrics.cleanupFailures.WithLabelValues(l.layer).Inc()
	}
	if l.inner != nil {
		l.inner.RemovalError(err, key, value)
	}
}
