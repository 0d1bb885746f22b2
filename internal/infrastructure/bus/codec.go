package bus

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"devicehub/internal/errs"
	"devicehub/internal/ports"
)

var (
	ErrCacheIDRequired = errors.New("invalidation event cache id is required")
	ErrKeyRequired     = errors.New("invalidation event key is required")
)

type wireEvent struct {
	CacheID string    `json:"cache_id"`
	Key     string    `json:"key,omitempty"`
	All     bool      `json:"all,omitempty"`
	Origin  string    `json:"origin,omitempty"`
	At      time.Time `json:"at"`
}

// Validate checks the fields every transport relies on.
func Validate(evt ports.InvalidationEvent) error {
	if strings.TrimSpace(evt.CacheID) == "" {
		return ErrCacheIDRequired
	}
	if !evt.All && strings.TrimSpace(evt.Key) == "" {
		return ErrKeyRequired
	}
	return nil
}

func Encode(evt ports.InvalidationEvent) ([]byte, error) {
	if err := Validate(evt); err != nil {
		return nil, err
	}
	data, err := json.Marshal(wireEvent(evt))
	if err != nil {
		return nil, errs.Wrap(err, "marshal invalidation event")
	}
	return data, nil
}

func Decode(data []byte) (ports.InvalidationEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return ports.InvalidationEvent{}, errs.Wrap(err, "unmarshal invalidation event")
	}
	evt := ports.InvalidationEvent(w)
	if err := Validate(evt); err != nil {
		return ports.InvalidationEvent{}, err
	}
	return evt, nil
}

// stamp fills the origin and timestamp a publisher left empty.
func stamp(evt ports.InvalidationEvent, origin string) ports.InvalidationEvent {
	evt.CacheID = strings.TrimSpace(evt.CacheID)
	evt.Key = strings.TrimSpace(evt.Key)
	if evt.Origin == "" {
		evt.Origin = origin
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	return evt
}
