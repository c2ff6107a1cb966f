package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
)

func newTestCache(t *testing.T) (*RedisStatsCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStatsCache(client, "", time.Minute), mr
}

func TestRedisStatsCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	var miss []gallery.RankedImage
	found, err := c.Get(ctx, "ranked-images", &miss)
	require.NoError(t, err)
	assert.False(t, found)

	ranked := []gallery.RankedImage{{ID: 1, OriginalFilename: "a.png", Rank: 1}}
	require.NoError(t, c.Set(ctx, "ranked-images", ranked))
	assert.True(t, mr.Exists(DefaultPrefix+"ranked-images"))
	assert.Equal(t, time.Minute, mr.TTL(DefaultPrefix+"ranked-images"))

	var got []gallery.RankedImage
	found, err = c.Get(ctx, "ranked-images", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, ranked, got)
}

func TestRedisStatsCache_Expires(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", 1))
	mr.FastForward(2 * time.Minute)

	var v int
	found, err := c.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStatsCache_InvalidateOnlyOwnKeys(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "b", 2))
	require.NoError(t, mr.Set("other:key", "keep"))

	require.NoError(t, c.Invalidate(ctx))
	assert.False(t, mr.Exists(DefaultPrefix+"a"))
	assert.False(t, mr.Exists(DefaultPrefix+"b"))
	assert.True(t, mr.Exists("other:key"))

	require.NoError(t, c.Invalidate(ctx), "invalidating an empty cache is fine")
}

func TestRedisStatsCache_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set(DefaultPrefix+"k", "{not json"))

	var v []gallery.RankedImage
	_, err := c.Get(ctx, "k", &v)
	assert.Error(t, err)
}

func TestRedisStatsCache_Check(t *testing.T) {
	c, _ := newTestCache(t)
	assert.NoError(t, c.Check(context.Background()))

	down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer down.Close()
	assert.Error(t, NewRedisStatsCache(down, "", 0).Check(context.Background()))
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, 2, client.Options().DB)
	_ = client.Close()

	_, err = NewRedisClient("http://nope")
	assert.Error(t, err)
}
