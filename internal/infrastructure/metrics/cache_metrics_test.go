package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"devicehub/internal/cache"
)

func TestCacheMetricsCountEngineEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCacheMetrics(reg, "devicehub")

	e := cache.NewEngine[int](cache.EngineOptions{CacheID: "user", Capacity: 1, Observer: m})
	e.Put("a", 1)
	e.Get("a")
	e.Get("missing")
	e.Put("b", 2)
	e.Invalidate("b")

	checks := []struct {
		name string
		vec  *prometheus.CounterVec
		want float64
	}{
		{"hits", m.Hits, 1},
		{"misses", m.Misses, 1},
		{"evictions", m.Evictions, 1},
		{"invalidations", m.Invalidations, 1},
		{"expirations", m.Expirations, 0},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.vec.WithLabelValues("user")); got != c.want {
			t.Fatalf("%s = %v, want %v", c.name, got, c.want)
		}
	}

	if n, err := testutil.GatherAndCount(reg, "devicehub_cache_hits_total"); err != nil || n != 1 {
		t.Fatalf("GatherAndCount(hits) = %d, %v", n, err)
	}
}
