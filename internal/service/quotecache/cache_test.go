package quotecache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"SwapQuote/internal/domain/models"
	"SwapQuote/internal/repository"
	"SwapQuote/pkg/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: time.Unix(1700000000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quote(out string) *models.Quote {
	return &models.Quote{Source: "s", InputAsset: "SOL", OutputAsset: "USDC", OutAmount: dec(out)}
}

func TestGetRespectsTTL(t *testing.T) {
	clk := newClock()
	c := New("s", nil, Config{TTL: 2 * time.Second}, WithClock(clk.Now))

	c.Set("SOL", "USDC", dec("1"), quote("100"))

	clk.Advance(1999 * time.Millisecond)
	q, ok := c.Get("SOL", "USDC", dec("1"))
	require.True(t, ok)
	assert.True(t, q.OutAmount.Equal(dec("100")))

	clk.Advance(2 * time.Millisecond)
	_, ok = c.Get("SOL", "USDC", dec("1"))
	assert.False(t, ok)
}

func TestKeyBuckets(t *testing.T) {
	assert.Equal(t, Key("SOL", "USDC", dec("1.00")), Key("SOL", "USDC", dec("1.02")))
	assert.NotEqual(t, Key("SOL", "USDC", dec("1.00")), Key("SOL", "USDC", dec("1.10")))
	assert.Equal(t, "SOL-USDC-1.05", Key("SOL", "USDC", dec("1.04")))
	assert.Equal(t, "SOL-USDC-0.00", Key("SOL", "USDC", dec("0.01")))
}

func TestSetEvictsOldestByInsertion(t *testing.T) {
	clk := newClock()
	c := New("s", nil, Config{TTL: time.Minute, MaxSize: 2}, WithClock(clk.Now))

	c.Set("A", "B", dec("1"), quote("1"))
	clk.Advance(time.Millisecond)
	c.Set("A", "B", dec("2"), quote("2"))
	clk.Advance(time.Millisecond)

	// a hit does not refresh insertion order
	_, ok := c.Get("A", "B", dec("1"))
	require.True(t, ok)

	c.Set("A", "B", dec("3"), quote("3"))
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get("A", "B", dec("1"))
	assert.False(t, ok)
	_, ok = c.Get("A", "B", dec("3"))
	assert.True(t, ok)
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c := New("s", nil, Config{MaxSize: 1})
	c.Set("A", "B", dec("1"), quote("1"))
	c.Set("A", "B", dec("1"), quote("2"))

	q, ok := c.Get("A", "B", dec("1"))
	require.True(t, ok)
	assert.True(t, q.OutAmount.Equal(dec("2")))
	assert.Equal(t, 1, c.Len())
}

func TestMissesTrackedPerPair(t *testing.T) {
	c := New("s", nil, Config{})

	c.Get("SOL", "USDC", dec("1"))
	c.Get("SOL", "USDC", dec("7.5"))

	stats := c.PairStats()
	require.Contains(t, stats, "SOL-USDC")
	assert.Equal(t, 2, stats["SOL-USDC"].HitCount)
	assert.True(t, stats["SOL-USDC"].LastAmount.Equal(dec("7.5")))
}

func TestPairStatsCapped(t *testing.T) {
	clk := newClock()
	c := New("s", nil, Config{}, WithClock(clk.Now))
	for i := 0; i < maxPairStats+5; i++ {
		c.Get("IN", decimal.NewFromInt(int64(i)).String(), dec("1"))
		clk.Advance(time.Millisecond)
	}
	stats := c.PairStats()
	assert.Len(t, stats, maxPairStats)
	assert.NotContains(t, stats, "IN-0")
	assert.Contains(t, stats, "IN-54")
}

func TestPredictRefreshesHotAndMissedPairs(t *testing.T) {
	var mu sync.Mutex
	var fetched []string
	fetch := func(_ context.Context, in, out string, amount decimal.Decimal) (*models.Quote, error) {
		mu.Lock()
		fetched = append(fetched, Key(in, out, amount))
		mu.Unlock()
		if in == "BAD" {
			return nil, errors.New("venue down")
		}
		return &models.Quote{InputAsset: in, OutputAsset: out, InAmount: amount, OutAmount: dec("5")}, nil
	}

	c := New("s", fetch, Config{
		PredictionThreshold: 2,
		HotPairs:            []Pair{{Input: "SOL", Output: "USDC"}, {Input: "BAD", Output: "USDC"}},
		HotAmounts:          []decimal.Decimal{dec("1"), dec("10")},
	})
	c.Get("JUP", "USDC", dec("3"))
	c.Get("JUP", "USDC", dec("4"))
	c.Get("BONK", "USDC", dec("4"))

	c.Predict(context.Background())

	assert.ElementsMatch(t, []string{
		"SOL-USDC-1.00", "SOL-USDC-10.00",
		"BAD-USDC-1.00", "BAD-USDC-10.00",
		"JUP-USDC-4.00",
	}, fetched)

	_, ok := c.Get("JUP", "USDC", dec("4"))
	assert.True(t, ok)
	_, ok = c.Get("SOL", "USDC", dec("10"))
	assert.True(t, ok)
	_, ok = c.Get("BAD", "USDC", dec("1"))
	assert.False(t, ok)
}

func newStore(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	return miniredis.RunT(t)
}

func TestSnapshotRoundTrip(t *testing.T) {
	mr := newStore(t)
	rc, err := cache.NewRedisCache(cache.WithRedisAddr(mr.Addr()))
	require.NoError(t, err)
	defer rc.Close()
	store := repository.NewCacheSnapshotStore(rc, time.Hour)

	clk := newClock()
	src := New("jup", nil, Config{TTL: 2 * time.Second}, WithClock(clk.Now), WithSnapshotStore(store, ""))

	src.Set("SOL", "USDC", dec("1"), quote("100"))
	src.Set("SOL", "USDC", dec("5"), quote("500"))
	src.Get("SOL", "USDC", dec("1"))
	src.Get("SOL", "USDC", dec("1"))
	src.Get("SOL", "USDC", dec("5"))
	src.Get("ETH", "USDC", dec("2"))

	require.NoError(t, src.SaveSnapshot(context.Background()))
	assert.True(t, mr.Exists("swapquote:quotecache:jup:pair_stats"))
	assert.True(t, mr.Exists("swapquote:quotecache:jup:hot_quotes"))

	clk.Advance(10 * time.Second)
	dst := New("jup", nil, Config{TTL: 2 * time.Second}, WithClock(clk.Now), WithSnapshotStore(store, ""))
	require.NoError(t, dst.RestoreSnapshot(context.Background()))

	assert.Equal(t, 1, dst.Len())
	assert.Contains(t, dst.PairStats(), "ETH-USDC")

	// restored entries are near expiry
	clk.Advance(400 * time.Millisecond)
	q, ok := dst.Get("SOL", "USDC", dec("1"))
	require.True(t, ok)
	assert.True(t, q.OutAmount.Equal(dec("100")))
	clk.Advance(200 * time.Millisecond)
	_, ok = dst.Get("SOL", "USDC", dec("1"))
	assert.False(t, ok)
}

func TestRestoreDropsStaleEntries(t *testing.T) {
	mem := cache.NewMemoryCache()
	defer mem.Close()
	store := repository.NewCacheSnapshotStore(mem, 0)

	clk := newClock()
	src := New("s", nil, Config{TTL: time.Minute}, WithClock(clk.Now), WithSnapshotStore(store, "snap"))
	src.Set("A", "B", dec("1"), quote("1"))
	src.Get("A", "B", dec("1"))
	src.Get("A", "B", dec("1"))
	require.NoError(t, src.SaveSnapshot(context.Background()))

	clk.Advance(31 * time.Second)
	dst := New("s", nil, Config{TTL: time.Minute}, WithClock(clk.Now), WithSnapshotStore(store, "snap"))
	require.NoError(t, dst.RestoreSnapshot(context.Background()))
	assert.Equal(t, 0, dst.Len())
}

func TestSnapshotWithoutStore(t *testing.T) {
	c := New("s", nil, Config{})
	assert.ErrorIs(t, c.SaveSnapshot(context.Background()), ErrNoStore)
	assert.ErrorIs(t, c.RestoreSnapshot(context.Background()), ErrNoStore)
}

func TestStartStopIdempotent(t *testing.T) {
	mem := cache.NewMemoryCache()
	defer mem.Close()
	store := repository.NewCacheSnapshotStore(mem, 0)

	c := New("s", nil, Config{PredictionRefresh: time.Hour, SnapshotInterval: time.Hour}, WithSnapshotStore(store, "x"))
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Start(ctx))

	c.Set("A", "B", dec("1"), quote("1"))
	c.Get("A", "B", dec("1"))
	c.Get("A", "B", dec("1"))

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))

	var hot []tuple[Entry]
	found, err := store.Load(ctx, "x:hot_quotes", &hot)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, hot, 1)
	assert.Equal(t, "A-B-1.00", hot[0].Key)
	assert.Equal(t, 2, hot[0].Value.HitCount)
}
