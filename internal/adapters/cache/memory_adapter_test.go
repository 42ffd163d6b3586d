package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/providers"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestMemoryAdapter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter(10, nil)

	require.NoError(t, a.Set(ctx, "rec:trend:x", []byte("v1"), time.Minute))
	got, err := a.Get(ctx, "rec:trend:x")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	_, err = a.Get(ctx, "missing")
	assert.ErrorIs(t, err, providers.ErrCacheMiss)
}

func TestMemoryAdapter_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := NewMemoryAdapter(10, clock.Now)

	require.NoError(t, a.Set(ctx, "k", []byte("v"), time.Minute))
	clock.t = clock.t.Add(2 * time.Minute)

	_, err := a.Get(ctx, "k")
	assert.ErrorIs(t, err, providers.ErrCacheMiss)
	assert.Equal(t, 0, a.Len())
}

func TestMemoryAdapter_ScanPrefixAndDelete(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter(10, nil)
	for _, k := range []string{"rec:feed:auth:u:u1:a", "rec:feed:auth:u:u1:b", "rec:feed:auth:u:u2:a", "rec:trend:x"} {
		require.NoError(t, a.Set(ctx, k, []byte("v"), time.Minute))
	}

	keys, next, err := a.ScanPrefix(ctx, "rec:feed:auth:u:u1", 0, 1)
	require.NoError(t, err)
	assert.Zero(t, next)
	assert.ElementsMatch(t, []string{"rec:feed:auth:u:u1:a", "rec:feed:auth:u:u1:b"}, keys)

	require.NoError(t, a.Delete(ctx, keys...))
	assert.Equal(t, 2, a.Len())
}

func TestMemoryAdapter_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter(2, nil)
	require.NoError(t, a.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, a.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, a.Set(ctx, "c", []byte("3"), time.Minute))

	_, err := a.Get(ctx, "a")
	assert.ErrorIs(t, err, providers.ErrCacheMiss)
}
