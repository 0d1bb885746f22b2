package cache

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidKey rejects empty keys at the cache boundary. Never retried.
	ErrInvalidKey = errors.New("invalid cache key")
	// ErrSourceUnavailable wraps failures and timeouts of the authoritative lookup.
	ErrSourceUnavailable = errors.New("authoritative source unavailable")
	// ErrSubscriptionLost marks an invalidation subscription that dropped; it is retried internally.
	ErrSubscriptionLost = errors.New("invalidation subscription lost")
)

func normalizeKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", ErrInvalidKey
	}
	return trimmed, nil
}
