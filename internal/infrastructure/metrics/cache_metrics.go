// Package metrics exposes cache activity as Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"devicehub/internal/cache"
)

// CacheMetrics implements cache.Observer with one counter vector per event kind,
// labelled by cache id.
type CacheMetrics struct {
	Hits          *prometheus.CounterVec
	Misses        *prometheus.CounterVec
	Evictions     *prometheus.CounterVec
	Expirations   *prometheus.CounterVec
	Invalidations *prometheus.CounterVec
}

var _ cache.Observer = (*CacheMetrics)(nil)

// NewCacheMetrics registers the cache collectors on reg under namespace.
func NewCacheMetrics(reg prometheus.Registerer, namespace string) *CacheMetrics {
	factory := promauto.With(reg)
	counter := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, []string{"cache"})
	}

	return &CacheMetrics{
		Hits:          counter("hits_total", "Lookups served from memory"),
		Misses:        counter("misses_total", "Lookups that fell through to the authoritative source"),
		Evictions:     counter("evictions_total", "Entries evicted to respect capacity"),
		Expirations:   counter("expirations_total", "Entries removed after their time-to-live"),
		Invalidations: counter("invalidations_total", "Entries removed by explicit or remote invalidation"),
	}
}

func (m *CacheMetrics) Hit(cacheID string)        { m.Hits.WithLabelValues(cacheID).Inc() }
func (m *CacheMetrics) Miss(cacheID string)       { m.Misses.WithLabelValues(cacheID).Inc() }
func (m *CacheMetrics) Evict(cacheID string)      { m.Evictions.WithLabelValues(cacheID).Inc() }
func (m *CacheMetrics) Expire(cacheID string)     { m.Expirations.WithLabelValues(cacheID).Inc() }
func (m *CacheMetrics) Invalidate(cacheID string) { m.Invalidations.WithLabelValues(cacheID).Inc() }
