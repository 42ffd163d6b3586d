package providers

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by CacheStore.Get when the key does not exist
var ErrCacheMiss = errors.New("cache: key not found")

// ErrScanUnsupported is returned by stores that cannot enumerate keys
var ErrScanUnsupported = errors.New("cache: prefix scan not supported")

// CacheStore defines the key-value operations the recommendation cache needs.
// Values are opaque bytes; serialization happens above this interface.
type CacheStore interface {
	// Get retrieves a value; returns ErrCacheMiss when absent
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with expiration
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys
	Delete(ctx context.Context, keys ...string) error

	// ScanPrefix returns up to limit keys beginning with prefix, starting at
	// cursor. A zero next cursor means the scan is complete.
	ScanPrefix(ctx context.Context, prefix string, cursor uint64, limit int64) (keys []string, next uint64, err error)
}
