package bus

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"

	"devicehub/internal/ports"
)

func TestCodecRejectsMalformedPayloads(t *testing.T) {
	if _, err := Decode([]byte("{")); err == nil {
		t.Fatalf("Decode(truncated) expected error")
	}
	if _, err := Decode([]byte(`{"cache_id":"user"}`)); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("Decode(no key) error = %v", err)
	}

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	data, err := Encode(ports.InvalidationEvent{CacheID: "grau", All: true, Origin: "node-a", At: at})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if strings.Contains(string(data), `"key"`) {
		t.Fatalf("flush event should omit key: %s", data)
	}
	evt, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !evt.All || evt.CacheID != "grau" || !evt.At.Equal(at) {
		t.Fatalf("Decode() = %+v", evt)
	}
}

func TestDialNATSRequiresURL(t *testing.T) {
	if _, err := DialNATS(context.Background(), NATSConfig{}); err == nil {
		t.Fatalf("DialNATS() expected error without url")
	}
}

func startNATS(t *testing.T) *server.Server {
	t.Helper()
	s := natstest.RunRandClientPortServer()
	t.Cleanup(s.Shutdown)
	return s
}

func dialTestNATS(t *testing.T, cfg NATSConfig) *NATS {
	t.Helper()
	b, err := DialNATS(context.Background(), cfg)
	if err != nil {
		t.Fatalf("DialNATS() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func flushNATS(t *testing.T, b *NATS) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.conn.FlushWithContext(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestNATSRoundTrip(t *testing.T) {
	srv := startNATS(t)
	ctx := context.Background()

	pub := dialTestNATS(t, NATSConfig{URL: srv.ClientURL()})
	b := dialTestNATS(t, NATSConfig{URL: srv.ClientURL()})

	got := &recorder{}
	sub, err := b.Subscribe(ctx, "user", got.handle)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	other := &recorder{}
	if _, err := b.Subscribe(ctx, "grau", other.handle); err != nil {
		t.Fatalf("Subscribe(grau) error = %v", err)
	}
	flushNATS(t, b)

	if err := pub.Publish(ctx, ports.InvalidationEvent{CacheID: "user", Key: "admin"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitFor(t, func() bool { return len(got.snapshot()) == 1 })

	evt := got.snapshot()[0]
	if evt.Key != "admin" || evt.CacheID != "user" {
		t.Fatalf("received event = %+v", evt)
	}
	if evt.Origin != pub.InstanceID() || evt.At.IsZero() {
		t.Fatalf("received event not stamped by publisher: %+v", evt)
	}
	if n := len(other.snapshot()); n != 0 {
		t.Fatalf("grau subscriber received %d user events", n)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if sub.Err() != nil {
		t.Fatalf("Err() after Unsubscribe = %v", sub.Err())
	}
}

func TestNATSDropsMalformedMessages(t *testing.T) {
	srv := startNATS(t)
	ctx := context.Background()
	b := dialTestNATS(t, NATSConfig{URL: srv.ClientURL()})

	got := &recorder{}
	if _, err := b.Subscribe(ctx, "user", got.handle); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	flushNATS(t, b)

	for _, raw := range []string{"{", `{"cache_id":"user"}`, "not json"} {
		if err := b.conn.Publish(b.Subject("user"), []byte(raw)); err != nil {
			t.Fatalf("raw publish %q: %v", raw, err)
		}
	}
	if err := b.Publish(ctx, ports.InvalidationEvent{CacheID: "user", Key: "admin"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	flushNATS(t, b)

	waitFor(t, func() bool { return len(got.snapshot()) >= 1 })
	time.Sleep(20 * time.Millisecond)
	events := got.snapshot()
	if len(events) != 1 || events[0].Key != "admin" {
		t.Fatalf("handler events = %+v, want only the well-formed one", events)
	}
}

func TestNATSSubscriptionEndsWhenServerGoesAway(t *testing.T) {
	srv := startNATS(t)
	b := dialTestNATS(t, NATSConfig{
		URL:           srv.ClientURL(),
		ReconnectWait: 20 * time.Millisecond,
		MaxReconnects: 1,
	})

	sub, err := b.Subscribe(context.Background(), "user", (&recorder{}).handle)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	flushNATS(t, b)

	srv.Shutdown()

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("Done() not closed after the server shut down")
	}
	if sub.Err() == nil {
		t.Fatalf("Err() = nil after losing the server")
	}
}
