package quotecache

import (
	"sync"
	"time"

	"SwapQuote/internal/domain/models"
	"SwapQuote/internal/domain/repository"
	"SwapQuote/pkg/logger"
	"SwapQuote/pkg/metrics"

	"github.com/shopspring/decimal"
)

const (
	maxPairStats    = 50
	maxHotEntries   = 20
	hotHitCount     = 2
	restoreMaxAge   = 30 * time.Second
	restoredAge     = 1500 * time.Millisecond
	defaultSnapshot = 10 * time.Second
)

var bucketSize = decimal.RequireFromString("0.05")

// Pair is an (input, output) asset pair.
type Pair struct {
	Input  string `json:"input" yaml:"input"`
	Output string `json:"output" yaml:"output"`
}

// Config controls TTL, capacity and predictive refresh.
type Config struct {
	TTL                 time.Duration
	MaxSize             int
	PredictionThreshold int
	PredictionRefresh   time.Duration
	SnapshotInterval    time.Duration
	FetchTimeout        time.Duration
	HotPairs            []Pair
	HotAmounts          []decimal.Decimal
}

// DefaultConfig returns 2s TTL, 100 entries, hot after 3 misses, refresh every 1.5s.
func DefaultConfig() Config {
	return Config{
		TTL:                 2 * time.Second,
		MaxSize:             100,
		PredictionThreshold: 3,
		PredictionRefresh:   1500 * time.Millisecond,
		SnapshotInterval:    defaultSnapshot,
		FetchTimeout:        5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.MaxSize <= 0 {
		c.MaxSize = d.MaxSize
	}
	if c.PredictionThreshold <= 0 {
		c.PredictionThreshold = d.PredictionThreshold
	}
	if c.PredictionRefresh <= 0 {
		c.PredictionRefresh = d.PredictionRefresh
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = d.SnapshotInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	return c
}

// Entry is one cached quote.
type Entry struct {
	Quote     *models.Quote `json:"payload"`
	CreatedAt time.Time     `json:"createdAt"`
	HitCount  int           `json:"hitCount"`
}

// PairStatistic counts misses for a pair regardless of amount.
type PairStatistic struct {
	Input           string          `json:"input"`
	Output          string          `json:"output"`
	HitCount        int             `json:"hitCount"`
	LastAmount      decimal.Decimal `json:"lastAmount"`
	LastRequestedAt time.Time       `json:"lastRequestedAt"`
}

// Cache is a short-TTL quote cache for one source.
type Cache struct {
	name    string
	cfg     Config
	fetch   repository.QuoteFetcher
	store   repository.SnapshotStore
	prefix  string
	log     *logger.Logger
	metrics repository.Metrics
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
	stats   map[string]*PairStatistic

	lifeMu  sync.Mutex
	running bool
	cancel  func()
	wg      sync.WaitGroup
}

type Option func(*Cache)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSnapshotStore enables periodic persistence under the given key prefix.
func WithSnapshotStore(store repository.SnapshotStore, prefix string) Option {
	return func(c *Cache) {
		c.store = store
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

func WithMetrics(m repository.Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates a cache for the named source. fetch is used only by the
// predictive refresh loop.
func New(name string, fetch repository.QuoteFetcher, cfg Config, opts ...Option) *Cache {
	c := &Cache{
		name:    name,
		cfg:     cfg.withDefaults(),
		fetch:   fetch,
		prefix:  "quotecache:" + name,
		log:     logger.NewNop(),
		metrics: metrics.Nop{},
		now:     time.Now,
		entries: make(map[string]*Entry),
		stats:   make(map[string]*PairStatistic),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.String("cache", name))
	return c
}

func (c *Cache) Name() string { return c.name }

// Key returns the cache key for a request. Amounts are rounded to the
// nearest 0.05 so near-identical requests share an entry.
func Key(inputAsset, outputAsset string, amount decimal.Decimal) string {
	return inputAsset + "-" + outputAsset + "-" + Bucket(amount).StringFixed(2)
}

// Bucket rounds amount to the nearest 0.05.
func Bucket(amount decimal.Decimal) decimal.Decimal {
	return amount.Div(bucketSize).Round(0).Mul(bucketSize)
}

func pairKey(inputAsset, outputAsset string) string {
	return inputAsset + "-" + outputAsset
}

// Get returns a quote younger than TTL. A miss is counted against the pair.
func (c *Cache) Get(inputAsset, outputAsset string, amount decimal.Decimal) (*models.Quote, bool) {
	key := Key(inputAsset, outputAsset, amount)
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && now.Sub(e.CreatedAt) < c.cfg.TTL {
		e.HitCount++
		q := e.Quote
		c.mu.Unlock()
		c.metrics.RecordCacheLookup(c.name, true)
		return q, true
	}
	if ok {
		delete(c.entries, key)
	}
	c.recordMissLocked(inputAsset, outputAsset, amount, now)
	c.mu.Unlock()

	c.metrics.RecordCacheLookup(c.name, false)
	return nil, false
}

// Set stores q, evicting the oldest entry by insertion time when full.
// Overwriting an entry keeps its hit count.
func (c *Cache) Set(inputAsset, outputAsset string, amount decimal.Decimal, q *models.Quote) {
	if q == nil {
		return
	}
	key := Key(inputAsset, outputAsset, amount)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	hits := 0
	if prev, ok := c.entries[key]; ok {
		hits = prev.HitCount
	} else if len(c.entries) >= c.cfg.MaxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = &Entry{Quote: q, CreatedAt: now, HitCount: hits}
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// PairStats returns a copy of the miss statistics.
func (c *Cache) PairStats() map[string]PairStatistic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]PairStatistic, len(c.stats))
	for k, s := range c.stats {
		out[k] = *s
	}
	return out
}

func (c *Cache) recordMissLocked(inputAsset, outputAsset string, amount decimal.Decimal, now time.Time) {
	pk := pairKey(inputAsset, outputAsset)
	s, ok := c.stats[pk]
	if !ok {
		if len(c.stats) >= maxPairStats {
			c.evictStalestPairLocked()
		}
		s = &PairStatistic{Input: inputAsset, Output: outputAsset}
		c.stats[pk] = s
	}
	s.HitCount++
	s.LastAmount = amount
	s.LastRequestedAt = now
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.CreatedAt.Before(oldest) {
			oldestKey, oldest = k, e.CreatedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *Cache) evictStalestPairLocked() {
	var stalestKey string
	var stalest time.Time
	for k, s := range c.stats {
		if stalestKey == "" || s.LastRequestedAt.Before(stalest) {
			stalestKey, stalest = k, s.LastRequestedAt
		}
	}
	if stalestKey != "" {
		delete(c.stats, stalestKey)
	}
}
