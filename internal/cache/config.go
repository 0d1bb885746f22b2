package cache

import (
	"context"
	"time"

	"devicehub/internal/ports"
)

const (
	DefaultCapacity     = 1000
	DefaultLoadTimeout  = 5 * time.Second
	DefaultRetryInitial = 100 * time.Millisecond
	DefaultRetryMax     = 30 * time.Second
)

// Config is the per-cache configuration surface.
//
// Enabled is the create-on-startup flag. Capacity 0 selects DefaultCapacity and a
// negative value means unbounded. TTL 0 disables expiration. SweepInterval 0 leaves
// expiration lazy (on access only).
type Config struct {
	Enabled       bool
	Capacity      int
	TTL           time.Duration
	SweepInterval time.Duration
	LoadTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	switch {
	case c.Capacity == 0:
		c.Capacity = DefaultCapacity
	case c.Capacity < 0:
		c.Capacity = 0
	}
	if c.TTL < 0 {
		c.TTL = 0
	}
	if c.SweepInterval < 0 || c.TTL == 0 {
		c.SweepInterval = 0
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = DefaultLoadTimeout
	}
	return c
}

// Deps are the collaborators shared by every named cache of a service.
// All fields are optional: without a Bus the cache never hears about remote writes
// and relies on TTL alone.
type Deps struct {
	Bus      ports.InvalidationBus
	Observer Observer
	Now      func() time.Time
	// LogContext carries the service logger and attrs into background goroutines.
	LogContext context.Context

	RetryInitial time.Duration
	RetryMax     time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Observer == nil {
		d.Observer = NopObserver{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.LogContext == nil {
		d.LogContext = context.Background()
	}
	if d.RetryInitial <= 0 {
		d.RetryInitial = DefaultRetryInitial
	}
	if d.RetryMax <= 0 {
		d.RetryMax = DefaultRetryMax
	}
	if d.RetryMax < d.RetryInitial {
		d.RetryMax = d.RetryInitial
	}
	return d
}
