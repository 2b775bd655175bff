package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisCache(WithRedisAddr(mr.Addr()), WithRedisPrefix("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	rc, mr := newRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "k", payload{Name: "a", Count: 2}, time.Minute))
	assert.True(t, mr.Exists("test:k"))

	var got payload
	require.NoError(t, rc.Get(ctx, "k", &got))
	assert.Equal(t, payload{Name: "a", Count: 2}, got)

	ok, err := rc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, rc.Delete(ctx, "k"))
	assert.ErrorIs(t, rc.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestRedisCacheExpiry(t *testing.T) {
	rc, mr := newRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "s", "raw", time.Second))
	var s string
	require.NoError(t, rc.Get(ctx, "s", &s))
	assert.Equal(t, "raw", s)

	mr.FastForward(2 * time.Second)
	assert.ErrorIs(t, rc.Get(ctx, "s", &s), ErrCacheMiss)
}

func TestRedisCachePing(t *testing.T) {
	rc, mr := newRedis(t)
	require.NoError(t, rc.Ping(context.Background()))

	mr.Close()
	assert.Error(t, rc.Ping(context.Background()))
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(WithRedisAddr(addr))
	assert.Error(t, err)
}

func TestMemoryCache(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", payload{Name: "a"}, 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", payload{Name: "b"}, 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", payload{Name: "c"}, 0))

	var got payload
	assert.ErrorIs(t, mc.Get(ctx, "a", &got), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "c", &got))
	assert.Equal(t, "c", got.Name)

	require.NoError(t, mc.Ping(ctx))
	require.NoError(t, mc.Close())
	assert.ErrorIs(t, mc.Ping(ctx), ErrClosed)
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "p:id", GenerateKey("p", "id"))
	assert.Equal(t, "id", GenerateKey("", "id"))
	assert.Equal(t, "quotecache:jup:1", GenerateKeyWithParams("quotecache", "jup", 1))
}
