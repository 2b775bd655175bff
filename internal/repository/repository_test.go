package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"SwapQuote/internal/domain/models"
	"SwapQuote/pkg/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSnapshotStoreWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache(cache.WithRedisAddr(mr.Addr()), cache.WithRedisPrefix("sq"))
	require.NoError(t, err)
	defer rc.Close()

	store := NewCacheSnapshotStore(rc, time.Hour)
	ctx := context.Background()

	var dest []string
	found, err := store.Load(ctx, "missing", &dest)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Save(ctx, "k", []string{"a", "b"}))
	assert.Equal(t, time.Hour, mr.TTL("sq:k"))

	found, err = store.Load(ctx, "k", &dest)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"a", "b"}, dest)

	require.NoError(t, store.Ping(ctx))
}

type fakeProducer struct {
	topic  string
	key    []byte
	value  interface{}
	err    error
	closed bool
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	f.topic, f.key, f.value = topic, key, value
	return f.err
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestKafkaHealthPublisher(t *testing.T) {
	fp := &fakeProducer{}
	pub := NewKafkaHealthPublisher(fp, "swapquote.health")

	h := &models.SystemHealth{Status: models.StatusDegraded}
	require.NoError(t, pub.PublishHealth(context.Background(), h))
	assert.Equal(t, "swapquote.health", fp.topic)
	assert.Equal(t, []byte("degraded"), fp.key)
	assert.Same(t, h, fp.value)

	fp.err = errors.New("broker down")
	assert.EqualError(t, pub.PublishHealth(context.Background(), h), "broker down")

	require.NoError(t, pub.Close())
	assert.True(t, fp.closed)
}

func TestStoreChecker(t *testing.T) {
	mem := cache.NewMemoryCache()
	check := StoreChecker(NewCacheSnapshotStore(mem, 0))

	res, err := check(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK)

	require.NoError(t, mem.Close())
	res, err = check(context.Background())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Message)
}
