package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(RedisConfig{
		Addr:    mr.Addr(),
		TTL:     time.Minute,
		Session: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func caches(t *testing.T) map[string]TileCache {
	rc, _ := newTestRedisCache(t)
	return map[string]TileCache{
		"map":   NewMapCache(),
		"redis": rc,
	}
}

func TestTileCacheGetSetClear(t *testing.T) {
	ctx := context.Background()
	for name, c := range caches(t) {
		t.Run(name, func(t *testing.T) {
			k := TileCacheKey{X: 1, Y: 2, Z: 3}

			_, ok, err := c.Get(ctx, k)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Set(ctx, k, TileCacheValue("png")))
			require.NoError(t, c.Set(ctx, TileCacheKey{X: 2, Y: 2, Z: 3}, TileCacheValue("tile")))

			v, ok, err := c.Get(ctx, k)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, TileCacheValue("png"), v)

			s, err := c.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{Tiles: 2, Bytes: 7}, s)

			require.NoError(t, c.Clear(ctx))

			_, ok, err = c.Get(ctx, k)
			require.NoError(t, err)
			assert.False(t, ok)

			s, err = c.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, s.Tiles, "empty immediately after clear")
		})
	}
}

func TestRedisCacheLayerMissing(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedisCache(t)

	require.NoError(t, c.Set(ctx, TileCacheKey{X: 1, Y: 1, Z: 1}, TileCacheValue("a")))
	mr.FlushAll()

	assert.ErrorIs(t, c.Clear(ctx), ErrLayerMissing)
	assert.ErrorIs(t, c.Set(ctx, TileCacheKey{X: 1, Y: 1, Z: 1}, TileCacheValue("a")), ErrLayerMissing)

	_, ok, err := c.Get(ctx, TileCacheKey{X: 1, Y: 1, Z: 1})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Recreate(ctx))
	require.NoError(t, c.Clear(ctx))
	require.NoError(t, c.Set(ctx, TileCacheKey{X: 1, Y: 1, Z: 1}, TileCacheValue("a")))
}

func TestRedisCacheTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedisCache(t)

	k := TileCacheKey{X: 5, Y: 6, Z: 7}
	require.NoError(t, c.Set(ctx, k, TileCacheValue("a")))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)

	// the generation itself does not expire
	require.NoError(t, c.Clear(ctx))
}

func TestRedisCacheSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	a, err := NewRedisCache(RedisConfig{Addr: mr.Addr(), Session: "a"})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisCache(RedisConfig{Addr: mr.Addr(), Session: "b"})
	require.NoError(t, err)
	defer b.Close()

	k := TileCacheKey{X: 1, Y: 1, Z: 1}
	require.NoError(t, a.Set(ctx, k, TileCacheValue("a")))
	require.NoError(t, b.Clear(ctx))

	_, ok, err := a.Get(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	_, err := NewRedisCache(RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
