package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"devicehub/internal/bootstrap/logging"
	"devicehub/internal/ports"
)

const DefaultMemoryBuffer = 256

var (
	ErrDisconnected = errors.New("memory bus disconnected")
	ErrOffline      = errors.New("memory bus offline")
	ErrClosed       = errors.New("bus is closed")
)

// Memory is an in-process InvalidationBus. Each subscriber gets its own buffered
// queue and goroutine, so publishers never wait on handlers. A full queue drops the
// event; the entry then ages out through its TTL.
type Memory struct {
	mu      sync.RWMutex
	subs    map[string]map[*memorySub]struct{}
	buffer  int
	origin  string
	offline bool
	closed  bool
	logCtx  context.Context
}

var _ ports.InvalidationBus = (*Memory)(nil)

func NewMemory(ctx context.Context, buffer int) *Memory {
	if buffer <= 0 {
		buffer = DefaultMemoryBuffer
	}
	return &Memory{
		subs:   make(map[string]map[*memorySub]struct{}),
		buffer: buffer,
		origin: uuid.NewString(),
		logCtx: logging.Component(logging.Detach(ctx), "bus.memory"),
	}
}

// InstanceID identifies this bus as the origin of the events it stamps.
func (m *Memory) InstanceID() string { return m.origin }

func (m *Memory) Publish(ctx context.Context, evt ports.InvalidationEvent) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if err := Validate(evt); err != nil {
		return err
	}
	evt = stamp(evt, m.origin)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	for sub := range m.subs[evt.CacheID] {
		select {
		case sub.queue <- evt:
		default:
			logging.Warn(m.logCtx, "subscriber queue full, invalidation dropped",
				slog.String("cache_id", evt.CacheID),
				slog.String("key", evt.Key),
			)
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, cacheID string, handler ports.InvalidationHandler) (ports.Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if cacheID == "" {
		return nil, ErrCacheIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return nil, ErrClosed
	case m.offline:
		return nil, ErrOffline
	}

	sub := &memorySub{
		bus:     m,
		cacheID: cacheID,
		queue:   make(chan ports.InvalidationEvent, m.buffer),
		done:    make(chan struct{}),
	}
	if m.subs[cacheID] == nil {
		m.subs[cacheID] = make(map[*memorySub]struct{})
	}
	m.subs[cacheID][sub] = struct{}{}

	go sub.run(ctx, handler)
	return sub, nil
}

// Disconnect drops every live subscription with ErrDisconnected, as a broker
// restart would. New subscriptions are accepted unless the bus is offline.
func (m *Memory) Disconnect() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]map[*memorySub]struct{})
	m.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.end(ErrDisconnected)
		}
	}
}

// SetOffline makes Subscribe fail until called again with false.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

// Subscribers counts live subscriptions for cacheID.
func (m *Memory) Subscribers(cacheID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[cacheID])
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.Disconnect()
	return nil
}

func (m *Memory) remove(sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.subs[sub.cacheID]
	delete(set, sub)
	if len(set) == 0 {
		delete(m.subs, sub.cacheID)
	}
}

type memorySub struct {
	bus     *Memory
	cacheID string
	queue   chan ports.InvalidationEvent
	done    chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *memorySub) run(ctx context.Context, handler ports.InvalidationHandler) {
	for {
		select {
		case <-s.done:
			return
		case evt := <-s.queue:
			handler(ctx, evt)
		}
	}
}

func (s *memorySub) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *memorySub) Done() <-chan struct{} { return s.done }

func (s *memorySub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *memorySub) Unsubscribe() error {
	s.bus.remove(s)
	s.end(nil)
	return nil
}
