package cache

// Observer receives engine events. Implementations must be safe for concurrent use
// and must not call back into the cache.
type Observer interface {
	Hit(cacheID string)
	Miss(cacheID string)
	Evict(cacheID string)
	Expire(cacheID string)
	Invalidate(cacheID string)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) Hit(string)        {}
func (NopObserver) Miss(string)       {}
func (NopObserver) Evict(string)      {}
func (NopObserver) Expire(string)     {}
func (NopObserver) Invalidate(string) {}
