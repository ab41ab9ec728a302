package cache

import (
	"context"
	"time"
)

// NullCache is a no-op cache that never stores anything.
// It is used when caching is disabled (--no-cache, or no backend configured).
type NullCache struct{}

// NewNullCache creates a null cache.
func NewNullCache() Cache {
	return NullCache{}
}

// Get always returns a cache miss.
func (NullCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

// Set discards data.
func (NullCache) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// Delete does nothing.
func (NullCache) Delete(context.Context, string) error {
	return nil
}

// Close does nothing.
func (NullCache) Close() error {
	return nil
}

// IsNull reports whether c is a NullCache, letting callers skip work whose
// only purpose is producing a cache key.
func IsNull(c Cache) bool {
	if c == nil {
		return true
	}
	switch c.(type) {
	case NullCache, *NullCache:
		return true
	}
	return false
}

var _ Cache = NullCache{}
