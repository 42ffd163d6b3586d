package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/providers"
)

// maxMemoryTTL caps how long any entry lives in the in-process store
const maxMemoryTTL = 24 * time.Hour

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryAdapter is a size-bounded in-process CacheStore for single-replica
// deployments and tests
type MemoryAdapter struct {
	lru *expirable.LRU[string, memoryEntry]
	now providers.Clock
}

// NewMemoryAdapter creates an in-process cache holding at most size entries
func NewMemoryAdapter(size int, now providers.Clock) *MemoryAdapter {
	if size <= 0 {
		size = 10000
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryAdapter{
		lru: expirable.NewLRU[string, memoryEntry](size, nil, maxMemoryTTL),
		now: now,
	}
}

var _ providers.CacheStore = (*MemoryAdapter)(nil)

// Get retrieves a value from cache
func (a *MemoryAdapter) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := a.lru.Get(key)
	if !ok {
		return nil, providers.ErrCacheMiss
	}
	if !entry.expiresAt.After(a.now()) {
		a.lru.Remove(key)
		return nil, providers.ErrCacheMiss
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores a value in cache with expiration
func (a *MemoryAdapter) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > maxMemoryTTL {
		ttl = maxMemoryTTL
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	a.lru.Add(key, memoryEntry{value: stored, expiresAt: a.now().Add(ttl)})
	return nil
}

// Delete removes values from cache
func (a *MemoryAdapter) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		a.lru.Remove(k)
	}
	return nil
}

// ScanPrefix returns every live key with the prefix in a single page; the
// store's size bounds the work
func (a *MemoryAdapter) ScanPrefix(_ context.Context, prefix string, _ uint64, _ int64) ([]string, uint64, error) {
	var keys []string
	for _, k := range a.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, 0, nil
}

// Len returns the number of stored entries
func (a *MemoryAdapter) Len() int {
	return a.lru.Len()
}
