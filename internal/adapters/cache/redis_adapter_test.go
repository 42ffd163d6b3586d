package cache

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/providers"
	redisclient "github.com/zatekoja/discoveryrank/backend/internal/infrastructure/clients/redis"
)

func newRedisAdapter(t *testing.T) *RedisAdapter {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" || testing.Short() {
		t.Skip("REDIS_ADDR not set, skipping Redis integration test")
	}
	c := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = c.Close() })
	return NewRedisAdapter(redisclient.NewFromClient(c))
}

func TestRedisAdapter_Integration(t *testing.T) {
	a := newRedisAdapter(t)
	ctx := context.Background()
	prefix := "rec:test:" + time.Now().Format("150405.000000")

	for _, k := range []string{prefix + ":a", prefix + ":b", prefix + "x:c"} {
		require.NoError(t, a.Set(ctx, k, []byte("v"), time.Minute))
	}

	got, err := a.Get(ctx, prefix+":a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	var found []string
	var cursor uint64
	for {
		keys, next, err := a.ScanPrefix(ctx, prefix+":", cursor, 100)
		require.NoError(t, err)
		found = append(found, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	assert.ElementsMatch(t, []string{prefix + ":a", prefix + ":b"}, found)

	require.NoError(t, a.Delete(ctx, found...))
	_, err = a.Get(ctx, prefix+":a")
	assert.ErrorIs(t, err, providers.ErrCacheMiss)
	require.NoError(t, a.Delete(ctx, prefix+"x:c"))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `rec:\*:\[a\]`, escapeGlob("rec:*:[a]"))
}
