package imageproxy

import (
	"context"
	"time"
)

// Store is the shared key/value store every worker coordinates through.
// Implementations must be safe for concurrent use and must wrap transport
// failures in ErrStoreUnavailable so callers can tell them apart from misses.
type Store interface {
	// Get returns the value stored under key. A missing key is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// SetWithTTL stores value under key, replacing any existing value.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// SetIfAbsent atomically stores value under key only when key does not
	// exist, reporting whether the write happened.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}
