package cache

import "time"

// Entry is one stored value. Only LastAccessedAt changes after insertion.
type Entry[V any] struct {
	Key            string
	Value          V
	InsertedAt     time.Time
	LastAccessedAt time.Time
}

// expired reports whether the entry is older than ttl at now. ttl <= 0 never expires.
func (e *Entry[V]) expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(e.InsertedAt) > ttl
}
