package bus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"devicehub/internal/bootstrap/logging"
	"devicehub/internal/errs"
	"devicehub/internal/ports"
)

const DefaultSubjectPrefix = "devicehub.cache.invalidate"

type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string
	ConnectWait   time.Duration
	ReconnectWait time.Duration
	// MaxReconnects caps reconnect attempts after a lost connection; once spent the
	// connection closes and every subscription ends. Zero retries forever.
	MaxReconnects int
}

// NATS publishes invalidation events on <prefix>.<cacheID> subjects.
// The client reconnects and replays subscriptions on its own; a subscription is
// reported lost only when the connection closes for good or the subscription
// stops being valid.
type NATS struct {
	conn   *nats.Conn
	prefix string
	origin string
	logCtx context.Context

	closed    chan struct{}
	closeOnce sync.Once
}

var _ ports.InvalidationBus = (*NATS)(nil)

func DialNATS(ctx context.Context, cfg NATSConfig) (*NATS, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats url is required")
	}

	b := &NATS{
		prefix: strings.TrimSuffix(strings.TrimSpace(cfg.SubjectPrefix), "."),
		origin: uuid.NewString(),
		logCtx: logging.Component(logging.Detach(ctx), "bus.nats", slog.String("url", cfg.URL)),
		closed: make(chan struct{}),
	}
	if b.prefix == "" {
		b.prefix = DefaultSubjectPrefix
	}
	if cfg.ConnectWait <= 0 {
		cfg.ConnectWait = 2 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "devicehub-" + b.origin
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = -1
	}

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn(b.logCtx, "nats disconnected", slog.Any("err", errs.Loggable(err)))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.Info(b.logCtx, "nats reconnected", slog.String("server", c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.closeOnce.Do(func() { close(b.closed) })
		}),
	)
	if err != nil {
		return nil, errs.Wrap(err, "connect nats")
	}
	b.conn = conn

	logging.Info(b.logCtx, "nats invalidation bus connected", slog.String("subject_prefix", b.prefix))
	return b, nil
}

func (b *NATS) InstanceID() string { return b.origin }

// Subject returns the subject carrying events for cacheID.
func (b *NATS) Subject(cacheID string) string {
	return b.prefix + "." + cacheID
}

func (b *NATS) Publish(ctx context.Context, evt ports.InvalidationEvent) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	evt = stamp(evt, b.origin)
	data, err := Encode(evt)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.Subject(evt.CacheID), data); err != nil {
		return errs.Wrapf(err, "publish invalidation %s", evt.CacheID)
	}
	return nil
}

func (b *NATS) Subscribe(ctx context.Context, cacheID string, handler ports.InvalidationHandler) (ports.Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if cacheID == "" {
		return nil, ErrCacheIDRequired
	}

	raw, err := b.conn.Subscribe(b.Subject(cacheID), func(msg *nats.Msg) {
		evt, err := Decode(msg.Data)
		if err != nil {
			logging.Warn(b.logCtx, "malformed invalidation message dropped",
				slog.String("subject", msg.Subject),
				slog.Any("err", errs.Loggable(err)),
			)
			return
		}
		handler(ctx, evt)
	})
	if err != nil {
		return nil, errs.Wrapf(err, "subscribe %s", b.Subject(cacheID))
	}

	sub := &natsSub{raw: raw, done: make(chan struct{}), stop: make(chan struct{})}
	go sub.watch(b.closed)
	return sub, nil
}

// Close drains pending messages and closes the connection.
func (b *NATS) Close() error {
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return errs.Wrap(err, "drain nats connection")
	}
	return nil
}

const natsValidityCheck = time.Second

type natsSub struct {
	raw  *nats.Subscription
	done chan struct{}
	stop chan struct{}

	once     sync.Once
	stopOnce sync.Once
	mu       sync.Mutex
	err      error
}

func (s *natsSub) watch(connClosed <-chan struct{}) {
	ticker := time.NewTicker(natsValidityCheck)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-connClosed:
			s.end(nats.ErrConnectionClosed)
			return
		case <-ticker.C:
			if !s.raw.IsValid() {
				s.end(nats.ErrBadSubscription)
				return
			}
		}
	}
}

func (s *natsSub) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *natsSub) Done() <-chan struct{} { return s.done }

func (s *natsSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *natsSub) Unsubscribe() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.end(nil)

	if err := s.raw.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return errs.Wrap(err, "unsubscribe nats")
	}
	return nil
}
