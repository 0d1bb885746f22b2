package cache

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// EngineOptions configures an Engine.
//
// Capacity <= 0 means unbounded. TTL <= 0 means entries never expire.
// Now defaults to time.Now and Observer to NopObserver.
type EngineOptions struct {
	CacheID  string
	Capacity int
	TTL      time.Duration
	Now      func() time.Time
	Observer Observer
}

// EngineStats is a point-in-time snapshot of engine counters.
type EngineStats struct {
	Size          int    `json:"size"`
	Capacity      int    `json:"capacity"`
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Evictions     uint64 `json:"evictions"`
	Expirations   uint64 `json:"expirations"`
	Invalidations uint64 `json:"invalidations"`
}

// Engine is a thread-safe LRU map with optional time-to-live measured from insertion.
// Recency order lives in a simplelru list; entries are stored by pointer so a hit
// can stamp LastAccessedAt in place. Callers only ever see copies.
type Engine[V any] struct {
	mu sync.Mutex

	id       string
	capacity int
	ttl      time.Duration
	now      func() time.Time
	observer Observer

	lru *simplelru.LRU[string, *Entry[V]]

	stats EngineStats
}

func NewEngine[V any](opts EngineOptions) *Engine[V] {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Capacity < 0 {
		opts.Capacity = 0
	}

	size := opts.Capacity
	if size == 0 {
		size = math.MaxInt
	}
	lru, err := simplelru.NewLRU[string, *Entry[V]](size, nil)
	if err != nil {
		// size is always positive here.
		panic(err)
	}

	return &Engine[V]{
		id:       opts.CacheID,
		capacity: opts.Capacity,
		ttl:      opts.TTL,
		now:      opts.Now,
		observer: opts.Observer,
		lru:      lru,
	}
}

// Get returns the live value for key and marks it most recently used.
// An expired entry is dropped on the way and reported as a miss.
func (e *Engine[V]) Get(key string) (V, bool) {
	var zero V
	now := e.now()

	e.mu.Lock()
	ent, ok := e.lru.Peek(key)
	if !ok {
		e.stats.Misses++
		e.mu.Unlock()
		e.observer.Miss(e.id)
		return zero, false
	}

	if ent.expired(now, e.ttl) {
		e.lru.Remove(key)
		e.stats.Expirations++
		e.stats.Misses++
		e.mu.Unlock()
		e.observer.Expire(e.id)
		e.observer.Miss(e.id)
		return zero, false
	}

	e.lru.Get(key)
	ent.LastAccessedAt = now
	e.stats.Hits++
	value := ent.Value
	e.mu.Unlock()

	e.observer.Hit(e.id)
	return value, true
}

// Put inserts or replaces key. A replacement is a fresh entry: its age restarts.
// When the insert pushes the size over capacity, the least recently used entry is evicted.
func (e *Engine[V]) Put(key string, value V) {
	now := e.now()
	ent := &Entry[V]{Key: key, Value: value, InsertedAt: now, LastAccessedAt: now}

	e.mu.Lock()
	evicted := e.lru.Add(key, ent)
	if evicted {
		e.stats.Evictions++
	}
	e.mu.Unlock()

	if evicted {
		e.observer.Evict(e.id)
	}
}

// Invalidate removes key if present. Removing an absent key is a no-op.
func (e *Engine[V]) Invalidate(key string) bool {
	e.mu.Lock()
	ok := e.lru.Remove(key)
	if ok {
		e.stats.Invalidations++
	}
	e.mu.Unlock()

	if ok {
		e.observer.Invalidate(e.id)
	}
	return ok
}

// InvalidateAll clears the engine and returns how many entries were dropped.
func (e *Engine[V]) InvalidateAll() int {
	e.mu.Lock()
	n := e.lru.Len()
	e.lru.Purge()
	e.stats.Invalidations += uint64(n)
	e.mu.Unlock()

	for range n {
		e.observer.Invalidate(e.id)
	}
	return n
}

// Purge drops every entry without counting or reporting invalidations. It is how
// a stopping cache releases its storage.
func (e *Engine[V]) Purge() int {
	e.mu.Lock()
	n := e.lru.Len()
	e.lru.Purge()
	e.mu.Unlock()
	return n
}

// Expire removes every entry older than the TTL at now.
func (e *Engine[V]) Expire(now time.Time) int {
	if e.ttl <= 0 {
		return 0
	}

	e.mu.Lock()
	removed := 0
	for _, key := range e.lru.Keys() {
		if ent, ok := e.lru.Peek(key); ok && ent.expired(now, e.ttl) {
			e.lru.Remove(key)
			removed++
		}
	}
	e.stats.Expirations += uint64(removed)
	e.mu.Unlock()

	for range removed {
		e.observer.Expire(e.id)
	}
	return removed
}

func (e *Engine[V]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lru.Len()
}

// Keys returns a snapshot of keys from most to least recently used.
func (e *Engine[V]) Keys() []string {
	e.mu.Lock()
	keys := e.lru.Keys()
	e.mu.Unlock()

	slices.Reverse(keys)
	return keys
}

// Entry returns a copy of the stored entry without touching recency or expiry.
func (e *Engine[V]) Entry(key string) (Entry[V], bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.lru.Peek(key)
	if !ok {
		return Entry[V]{}, false
	}
	return *ent, true
}

func (e *Engine[V]) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.stats
	out.Size = e.lru.Len()
	out.Capacity = e.capacity
	return out
}
