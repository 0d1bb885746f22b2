package ports

import (
	"context"
	"time"
)

// InvalidationEvent tells every cache subscribed to CacheID that Key is stale.
// All asks for a full resynchronization of that cache instead of a single key.
type InvalidationEvent struct {
	CacheID string
	Key     string
	All     bool
	Origin  string
	At      time.Time
}

// InvalidationHandler receives events for one cache id. Delivery is at least once.
type InvalidationHandler func(ctx context.Context, evt InvalidationEvent)

// Subscription is a live registration on the bus.
// Done is closed when the subscription ends, whether by Unsubscribe or by transport loss;
// Err then reports the loss cause, or nil after a clean Unsubscribe.
type Subscription interface {
	Done() <-chan struct{}
	Err() error
	Unsubscribe() error
}

// InvalidationBus carries "entity changed" events between service instances.
// Caches only subscribe; publishing belongs to the domain service that owns the write.
type InvalidationBus interface {
	Publish(ctx context.Context, evt InvalidationEvent) error
	Subscribe(ctx context.Context, cacheID string, handler InvalidationHandler) (Subscription, error)
}
