package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestComponentAttrsOverrideByKey(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), New(&buf, "debug", "text"))
	ctx = Component(ctx, "bootstrap", slog.String("cache_id", "user"))
	ctx = Component(ctx, "cache")

	Info(ctx, "cache started", slog.Int("capacity", 2))

	out := buf.String()
	if !strings.Contains(out, "component=cache") {
		t.Fatalf("log output missing overridden component: %s", out)
	}
	if strings.Contains(out, "component=bootstrap") {
		t.Fatalf("log output kept stale component: %s", out)
	}
	if !strings.Contains(out, "cache_id=user") || !strings.Contains(out, "capacity=2") {
		t.Fatalf("log output missing attrs: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), New(&buf, "warn", "json"))

	Debug(ctx, "hidden")
	Info(ctx, "hidden too")
	Warn(ctx, "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("below-level records were written: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("warn record missing: %s", out)
	}
}

func TestDetachDropsCancellationKeepsAttrs(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	parent = Component(parent, "cache")

	detached := Detach(parent)
	<-parent.Done()

	if detached.Err() != nil {
		t.Fatalf("detached context inherited cancellation: %v", detached.Err())
	}
	attrs := Attrs(detached)
	if len(attrs) != 1 || attrs[0].Value.String() != "cache" {
		t.Fatalf("detached attrs = %v", attrs)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
