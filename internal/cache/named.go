package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/fx"
	"golang.org/x/sync/singleflight"

	"devicehub/internal/bootstrap/logging"
	"devicehub/internal/errs"
)

// Lifecycle is the hosting service's start/stop hook registry. fx.Lifecycle satisfies it.
type Lifecycle interface {
	Append(fx.Hook)
}

// Fetcher queries the authoritative source on a miss.
// found=false with a nil error means the entity does not exist; it is never cached.
type Fetcher[V any] func(ctx context.Context, key string) (value V, found bool, err error)

// NamedCache is a cache for one entity kind, bound to the hosting service's lifecycle.
//
// Disabled caches satisfy the same contract: every lookup misses and writes are dropped,
// so call sites never branch on whether caching is active.
type NamedCache[V any] interface {
	ID() string
	Enabled() bool

	Get(key string) (V, bool, error)
	Put(key string, value V) error
	Invalidate(key string) error
	InvalidateAll() int
	GetOrLoad(ctx context.Context, key string, fetch Fetcher[V]) (V, bool, error)

	Stats() Stats
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Stats describes a named cache for admin surfaces.
type Stats struct {
	ID         string        `json:"id"`
	Enabled    bool          `json:"enabled"`
	Running    bool          `json:"running"`
	Subscribed bool          `json:"subscribed"`
	TTL        time.Duration `json:"ttl"`
	EngineStats
}

// Option customizes a named cache.
type Option[V any] func(*options[V])

type options[V any] struct {
	clone func(V) V
}

// WithClone copies values on the way in and out, for value types that hold
// references (slices, maps) callers could otherwise mutate in place.
func WithClone[V any](clone func(V) V) Option[V] {
	return func(o *options[V]) {
		o.clone = clone
	}
}

// New builds the named cache id. When cfg.Enabled is false the returned cache is a
// pass-through that never allocates storage. When host is non-nil, Start and Stop are
// registered as its start and stop hooks.
func New[V any](host Lifecycle, id string, cfg Config, deps Deps, opts ...Option[V]) NamedCache[V] {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()

	var o options[V]
	for _, opt := range opts {
		opt(&o)
	}

	logCtx := logging.Component(deps.LogContext, "cache", slog.String("cache_id", id))

	var c NamedCache[V]
	if cfg.Enabled {
		c = &provider[V]{
			id:     id,
			cfg:    cfg,
			deps:   deps,
			clone:  o.clone,
			logCtx: logCtx,
		}
	} else {
		c = &nullCache[V]{id: id, loadTimeout: cfg.LoadTimeout, logCtx: logCtx}
	}

	if host != nil {
		host.Append(fx.Hook{
			OnStart: c.Start,
			OnStop:  c.Stop,
		})
	}
	return c
}

// provider is the active cache: an Engine plus the background tasks that keep it fresh.
type provider[V any] struct {
	id     string
	cfg    Config
	deps   Deps
	clone  func(V) V
	logCtx context.Context

	mu      sync.RWMutex
	engine  *Engine[V]
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup

	subscribed atomic.Bool
	loads      singleflight.Group
	// epoch advances on every invalidation; a load that saw another epoch
	// at its start returns its value without storing it.
	epoch atomic.Uint64
}

func (p *provider[V]) ID() string    { return p.id }
func (p *provider[V]) Enabled() bool { return true }

func (p *provider[V]) current() *Engine[V] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.engine
}

func (p *provider[V]) copyValue(v V) V {
	if p.clone == nil {
		return v
	}
	return p.clone(v)
}

func (p *provider[V]) Get(key string) (V, bool, error) {
	var zero V
	k, err := normalizeKey(key)
	if err != nil {
		return zero, false, err
	}

	engine := p.current()
	if engine == nil {
		return zero, false, nil
	}
	v, ok := engine.Get(k)
	if !ok {
		return zero, false, nil
	}
	return p.copyValue(v), true, nil
}

func (p *provider[V]) Put(key string, value V) error {
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}

	if engine := p.current(); engine != nil {
		engine.Put(k, p.copyValue(value))
	}
	return nil
}

func (p *provider[V]) Invalidate(key string) error {
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}

	p.evict(k)
	return nil
}

func (p *provider[V]) InvalidateAll() int {
	p.epoch.Add(1)
	if engine := p.current(); engine != nil {
		return engine.InvalidateAll()
	}
	return 0
}

// evict drops key and keeps loads already in flight from storing what they read.
func (p *provider[V]) evict(key string) bool {
	p.epoch.Add(1)
	p.loads.Forget(key)
	if engine := p.current(); engine != nil {
		return engine.Invalidate(key)
	}
	return false
}

// GetOrLoad serves key from memory or reads it through fetch.
// Concurrent misses on one key share a single fetch that runs detached from any
// one caller; each caller still stops waiting when its own ctx ends.
// Failures are never cached.
func (p *provider[V]) GetOrLoad(ctx context.Context, key string, fetch Fetcher[V]) (V, bool, error) {
	var zero V
	k, err := normalizeKey(key)
	if err != nil {
		return zero, false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if v, ok, _ := p.Get(k); ok {
		return v, true, nil
	}

	ch := p.loads.DoChan(k, func() (any, error) {
		epoch := p.epoch.Load()
		v, found, err := load(context.WithoutCancel(ctx), p.cfg.LoadTimeout, p.id, k, fetch)
		if err != nil {
			return nil, err
		}
		if found && p.epoch.Load() == epoch {
			_ = p.Put(k, v)
		}
		return loaded[V]{value: v, found: found}, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return zero, false, errs.Wrapf(ctx.Err(), "load %s/%s", p.id, k)
	case res = <-ch:
	}
	if res.Err != nil {
		logging.Warn(p.logCtx, "authoritative lookup failed", slog.String("key", k), slog.Any("err", errs.Loggable(res.Err)))
		return zero, false, res.Err
	}

	r := res.Val.(loaded[V])
	if !r.found {
		return zero, false, nil
	}
	return p.copyValue(r.value), true, nil
}

func (p *provider[V]) Stats() Stats {
	p.mu.RLock()
	engine, running := p.engine, p.running
	p.mu.RUnlock()

	out := Stats{
		ID:         p.id,
		Enabled:    true,
		Running:    running,
		Subscribed: p.subscribed.Load(),
		TTL:        p.cfg.TTL,
	}
	if engine != nil {
		out.EngineStats = engine.Stats()
	} else {
		out.Capacity = p.cfg.Capacity
	}
	return out
}

// Start allocates the engine and launches the sweeper and invalidation subscriber.
// Calling Start on a running cache does nothing.
func (p *provider[V]) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	p.engine = NewEngine[V](EngineOptions{
		CacheID:  p.id,
		Capacity: p.cfg.Capacity,
		TTL:      p.cfg.TTL,
		Now:      p.deps.Now,
		Observer: p.deps.Observer,
	})

	runCtx, cancel := context.WithCancel(p.logCtx)
	p.cancel = cancel
	p.running = true

	if p.cfg.SweepInterval > 0 {
		p.wg.Add(1)
		go p.sweepLoop(runCtx, p.engine)
	}
	if p.deps.Bus != nil {
		p.wg.Add(1)
		go p.subscribeLoop(runCtx)
	}

	logging.Info(
		p.logCtx,
		"cache started",
		slog.Int("capacity", p.cfg.Capacity),
		slog.Duration("ttl", p.cfg.TTL),
		slog.Bool("invalidation", p.deps.Bus != nil),
	)
	return nil
}

// Stop ends the background tasks and discards every entry. Safe to call repeatedly.
func (p *provider[V]) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	engine := p.engine
	p.engine = nil
	p.mu.Unlock()

	cleared := engine.Purge()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errs.Wrapf(ctx.Err(), "stop cache %s", p.id)
	}

	logging.Info(p.logCtx, "cache stopped", slog.Int("discarded", cleared))
	return nil
}

func (p *provider[V]) sweepLoop(ctx context.Context, engine *Engine[V]) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := engine.Expire(p.deps.Now()); n > 0 {
				logging.Debug(ctx, "expired entries swept", slog.Int("count", n))
			}
		}
	}
}

// nullCache is the disabled variant: no storage, every lookup goes to the source.
type nullCache[V any] struct {
	id          string
	loadTimeout time.Duration
	logCtx      context.Context
}

func (n *nullCache[V]) ID() string    { return n.id }
func (n *nullCache[V]) Enabled() bool { return false }

func (n *nullCache[V]) Get(key string) (V, bool, error) {
	var zero V
	_, err := normalizeKey(key)
	return zero, false, err
}

func (n *nullCache[V]) Put(key string, _ V) error {
	_, err := normalizeKey(key)
	return err
}

func (n *nullCache[V]) Invalidate(key string) error {
	_, err := normalizeKey(key)
	return err
}

func (n *nullCache[V]) InvalidateAll() int { return 0 }

func (n *nullCache[V]) GetOrLoad(ctx context.Context, key string, fetch Fetcher[V]) (V, bool, error) {
	var zero V
	k, err := normalizeKey(key)
	if err != nil {
		return zero, false, err
	}
	return load(ctx, n.loadTimeout, n.id, k, fetch)
}

func (n *nullCache[V]) Stats() Stats {
	return Stats{ID: n.id}
}

func (n *nullCache[V]) Start(context.Context) error {
	logging.Info(n.logCtx, "cache disabled, lookups pass through")
	return nil
}

func (n *nullCache[V]) Stop(context.Context) error { return nil }

type loaded[V any] struct {
	value V
	found bool
}

// load runs fetch under timeout. Any failure is reported as ErrSourceUnavailable.
func load[V any](ctx context.Context, timeout time.Duration, id, key string, fetch Fetcher[V]) (V, bool, error) {
	var zero V
	if ctx == nil {
		ctx = context.Background()
	}

	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, found, err := fetch(loadCtx, key)
	if err == nil {
		err = loadCtx.Err()
	}
	if err != nil {
		return zero, false, errs.Join(ErrSourceUnavailable, errs.Wrapf(err, "load %s/%s", id, key))
	}
	return v, found, nil
}
