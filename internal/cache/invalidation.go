package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"devicehub/internal/bootstrap/logging"
	"devicehub/internal/errs"
	"devicehub/internal/ports"
)

// subscribeLoop keeps one bus subscription alive for the cache until ctx ends.
// Failed subscribes and lost subscriptions are retried with exponential backoff;
// the cache keeps serving local state in between.
func (p *provider[V]) subscribeLoop(ctx context.Context) {
	defer p.wg.Done()
	defer p.subscribed.Store(false)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = p.deps.RetryInitial
	retry.MaxInterval = p.deps.RetryMax

	for {
		sub, err := p.deps.Bus.Subscribe(ctx, p.id, p.handleInvalidation)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := nextWait(retry)
			logging.Warn(ctx, "invalidation subscribe failed",
				slog.Duration("retry_in", wait),
				slog.Any("err", errs.Loggable(err)),
			)
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}

		retry.Reset()
		p.subscribed.Store(true)
		logging.Info(ctx, "invalidation subscription established")

		select {
		case <-ctx.Done():
			p.subscribed.Store(false)
			if err := sub.Unsubscribe(); err != nil {
				logging.Warn(ctx, "invalidation unsubscribe failed", slog.Any("err", errs.Loggable(err)))
			}
			return
		case <-sub.Done():
			p.subscribed.Store(false)
		}

		lost := errs.Join(ErrSubscriptionLost, sub.Err())
		wait := nextWait(retry)
		logging.Warn(ctx, "invalidation subscription lost, serving local state",
			slog.Duration("retry_in", wait),
			slog.Any("err", errs.Loggable(lost)),
		)
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// handleInvalidation applies one bus event. Duplicates and unknown keys are no-ops.
func (p *provider[V]) handleInvalidation(ctx context.Context, evt ports.InvalidationEvent) {
	if evt.CacheID != p.id {
		return
	}

	engine := p.current()
	if engine == nil {
		return
	}

	if evt.All {
		n := p.InvalidateAll()
		logging.Info(ctx, "cache flushed by invalidation event",
			slog.Int("discarded", n),
			slog.String("origin", evt.Origin),
		)
		return
	}

	key := strings.TrimSpace(evt.Key)
	if key == "" {
		logging.Warn(ctx, "invalidation event without key ignored", slog.String("origin", evt.Origin))
		return
	}
	if p.evict(key) {
		logging.Debug(ctx, "cache entry invalidated", slog.String("key", key), slog.String("origin", evt.Origin))
	}
}

func nextWait(b *backoff.ExponentialBackOff) time.Duration {
	wait := b.NextBackOff()
	if wait == backoff.Stop || wait <= 0 {
		return b.MaxInterval
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
