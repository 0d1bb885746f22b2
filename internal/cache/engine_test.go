package cache

import (
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{counts: make(map[string]int)}
}

func (o *countingObserver) inc(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[kind]++
}

func (o *countingObserver) get(kind string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[kind]
}

func (o *countingObserver) Hit(string)        { o.inc("hit") }
func (o *countingObserver) Miss(string)       { o.inc("miss") }
func (o *countingObserver) Evict(string)      { o.inc("evict") }
func (o *countingObserver) Expire(string)     { o.inc("expire") }
func (o *countingObserver) Invalidate(string) { o.inc("invalidate") }

func TestEngineGetNeverInserted(t *testing.T) {
	e := NewEngine[int](EngineOptions{Capacity: 4})
	for _, key := range []string{"a", "b", "user:admin"} {
		if _, ok := e.Get(key); ok {
			t.Fatalf("Get(%q) found a key that was never inserted", key)
		}
	}
	if e.Len() != 0 {
		t.Fatalf("Len() = %d after misses, want 0", e.Len())
	}
}

func TestEnginePutThenGet(t *testing.T) {
	e := NewEngine[string](EngineOptions{})
	e.Put("admin", "v1")

	got, ok := e.Get("admin")
	if !ok || got != "v1" {
		t.Fatalf("Get() = %q, %v; want v1, true", got, ok)
	}

	e.Put("admin", "v2")
	got, ok = e.Get("admin")
	if !ok || got != "v2" {
		t.Fatalf("Get() after replace = %q, %v; want v2, true", got, ok)
	}
	if e.Len() != 1 {
		t.Fatalf("Len() = %d after replace, want 1", e.Len())
	}
}

func TestEngineInvalidateIsIdempotent(t *testing.T) {
	e := NewEngine[int](EngineOptions{})
	if e.Invalidate("missing") {
		t.Fatalf("Invalidate(missing) reported a removal")
	}

	e.Put("k", 1)
	if !e.Invalidate("k") {
		t.Fatalf("Invalidate(k) reported nothing removed")
	}
	if e.Invalidate("k") {
		t.Fatalf("second Invalidate(k) reported a removal")
	}
	if _, ok := e.Get("k"); ok {
		t.Fatalf("Get(k) found an invalidated key")
	}
}

func TestEngineCapacityEvictsLeastRecentlyInserted(t *testing.T) {
	obs := newCountingObserver()
	e := NewEngine[int](EngineOptions{Capacity: 3, Observer: obs})

	for i := range 4 {
		e.Put(fmt.Sprintf("k%d", i), i)
	}

	if _, ok := e.Get("k0"); ok {
		t.Fatalf("Get(k0) found the least recently inserted key after overflow")
	}
	for i := 1; i < 4; i++ {
		if v, ok := e.Get(fmt.Sprintf("k%d", i)); !ok || v != i {
			t.Fatalf("Get(k%d) = %d, %v", i, v, ok)
		}
	}
	if e.Len() != 3 {
		t.Fatalf("Len() = %d, want capacity 3", e.Len())
	}
	if got := e.Stats().Evictions; got != 1 {
		t.Fatalf("Stats().Evictions = %d, want 1", got)
	}
	if obs.get("evict") != 1 {
		t.Fatalf("observer evictions = %d, want 1", obs.get("evict"))
	}
}

func TestEngineRecencyScenario(t *testing.T) {
	e := NewEngine[int](EngineOptions{Capacity: 2})

	e.Put("a", 1)
	e.Put("b", 2)
	if v, ok := e.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v", v, ok)
	}
	e.Put("c", 3)

	if _, ok := e.Get("b"); ok {
		t.Fatalf("Get(b) present, want evicted")
	}
	if v, ok := e.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1", v, ok)
	}
	if v, ok := e.Get("c"); !ok || v != 3 {
		t.Fatalf("Get(c) = %d, %v; want 3", v, ok)
	}
	if keys := e.Keys(); !slices.Equal(keys, []string{"c", "a"}) {
		t.Fatalf("Keys() = %v, want [c a]", keys)
	}
}

func TestEngineTTL(t *testing.T) {
	clock := newFakeClock()
	obs := newCountingObserver()
	e := NewEngine[string](EngineOptions{TTL: time.Minute, Now: clock.Now, Observer: obs})

	e.Put("admin", "v")
	clock.Advance(time.Minute)
	if _, ok := e.Get("admin"); !ok {
		t.Fatalf("Get() at exactly ttl should still hit")
	}

	clock.Advance(time.Millisecond)
	if _, ok := e.Get("admin"); ok {
		t.Fatalf("Get() after ttl returned a value")
	}
	if e.Len() != 0 {
		t.Fatalf("expired entry not dropped on access, Len() = %d", e.Len())
	}
	if obs.get("expire") != 1 {
		t.Fatalf("observer expirations = %d, want 1", obs.get("expire"))
	}
}

func TestEngineReadsDoNotExtendTTL(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine[int](EngineOptions{TTL: 10 * time.Second, Now: clock.Now})

	e.Put("k", 1)
	for range 3 {
		clock.Advance(4 * time.Second)
		e.Get("k")
	}
	if _, ok := e.Get("k"); ok {
		t.Fatalf("reads extended the entry past its ttl")
	}
}

func TestEngineReplaceRestartsAge(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine[int](EngineOptions{TTL: 10 * time.Second, Now: clock.Now})

	e.Put("k", 1)
	clock.Advance(8 * time.Second)
	e.Put("k", 2)
	clock.Advance(8 * time.Second)

	if v, ok := e.Get("k"); !ok || v != 2 {
		t.Fatalf("Get() = %d, %v; want replaced value alive", v, ok)
	}
}

func TestEngineExpireSweep(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine[int](EngineOptions{TTL: time.Minute, Now: clock.Now})

	e.Put("old1", 1)
	e.Put("old2", 2)
	clock.Advance(45 * time.Second)
	e.Put("fresh", 3)
	clock.Advance(30 * time.Second)

	if n := e.Expire(clock.Now()); n != 2 {
		t.Fatalf("Expire() removed %d, want 2", n)
	}
	if keys := e.Keys(); !slices.Equal(keys, []string{"fresh"}) {
		t.Fatalf("Keys() after Expire = %v", keys)
	}

	noTTL := NewEngine[int](EngineOptions{Now: clock.Now})
	noTTL.Put("k", 1)
	clock.Advance(24 * time.Hour)
	if n := noTTL.Expire(clock.Now()); n != 0 {
		t.Fatalf("Expire() without ttl removed %d", n)
	}
}

func TestEngineLastAccessedAtTracksReads(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine[int](EngineOptions{Now: clock.Now})

	e.Put("k", 1)
	inserted := clock.Now()
	clock.Advance(5 * time.Second)
	e.Get("k")

	ent, ok := e.Entry("k")
	if !ok {
		t.Fatalf("Entry(k) missing")
	}
	if !ent.InsertedAt.Equal(inserted) {
		t.Fatalf("InsertedAt changed on read: %v", ent.InsertedAt)
	}
	if !ent.LastAccessedAt.Equal(inserted.Add(5 * time.Second)) {
		t.Fatalf("LastAccessedAt = %v, want read time", ent.LastAccessedAt)
	}
}

func TestEngineInvalidateAll(t *testing.T) {
	e := NewEngine[int](EngineOptions{})
	for i := range 5 {
		e.Put(fmt.Sprint(i), i)
	}
	if n := e.InvalidateAll(); n != 5 {
		t.Fatalf("InvalidateAll() = %d, want 5", n)
	}
	if e.Len() != 0 || len(e.Keys()) != 0 {
		t.Fatalf("entries survived InvalidateAll")
	}
	e.Put("again", 1)
	if _, ok := e.Get("again"); !ok {
		t.Fatalf("engine unusable after InvalidateAll")
	}
}

func TestEnginePurgeIsNotAnInvalidation(t *testing.T) {
	obs := newCountingObserver()
	e := NewEngine[int](EngineOptions{Observer: obs})
	for i := range 3 {
		e.Put(fmt.Sprint(i), i)
	}
	if n := e.Purge(); n != 3 {
		t.Fatalf("Purge() = %d, want 3", n)
	}
	if e.Len() != 0 {
		t.Fatalf("entries survived Purge")
	}
	if got := obs.get("invalidate"); got != 0 {
		t.Fatalf("observer invalidations = %d, want 0", got)
	}
	if st := e.Stats(); st.Invalidations != 0 {
		t.Fatalf("Stats().Invalidations = %d, want 0", st.Invalidations)
	}
}

func TestEngineConcurrentMissThenFill(t *testing.T) {
	e := NewEngine[string](EngineOptions{Capacity: 16})

	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := e.Get("admin"); !ok {
				e.Put("admin", "same")
			}
		}()
	}
	close(start)
	wg.Wait()

	if v, ok := e.Get("admin"); !ok || v != "same" {
		t.Fatalf("Get() = %q, %v after racing fills", v, ok)
	}
	if e.Len() != 1 || len(e.Keys()) != 1 {
		t.Fatalf("racing fills left %d entries, want 1", e.Len())
	}
}

func TestEngineConcurrentMixedOperations(t *testing.T) {
	e := NewEngine[int](EngineOptions{Capacity: 32})

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				key := fmt.Sprintf("k%d", (w*7+i)%64)
				switch i % 4 {
				case 0:
					e.Invalidate(key)
				case 1:
					e.Get(key)
				default:
					e.Put(key, i)
				}
			}
		}()
	}
	wg.Wait()

	if n := e.Len(); n > 32 {
		t.Fatalf("Len() = %d exceeds capacity", n)
	}
	if n, keys := e.Len(), e.Keys(); n != len(keys) {
		t.Fatalf("map and recency list disagree: %d vs %d", n, len(keys))
	}
}
