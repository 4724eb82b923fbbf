// Package cache provides the query-result cache interface and an in-memory
// TTL/LRU implementation. The cache is never authoritative; entries follow
// last-writer-wins semantics.
package cache

import (
	"context"
)

// Cache is the memoization surface the router consumes.
type Cache interface {
	// Get returns the cached value for key and whether it was present and
	// unexpired.
	Get(ctx context.Context, key string) (any, bool)

	// Put stores value under key for ttlSeconds. A zero or negative TTL uses
	// the implementation default.
	Put(ctx context.Context, key string, value any, ttlSeconds int)

	// Delete removes key.
	Delete(ctx context.Context, key string)
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}
