package quotecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"SwapQuote/pkg/cache"
	"SwapQuote/pkg/logger"
)

var ErrNoStore = errors.New("quotecache: no snapshot store configured")

// tuple serializes as a two-element JSON array [key, value].
type tuple[T any] struct {
	Key   string
	Value T
}

func (t tuple[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{t.Key, t.Value})
}

func (t *tuple[T]) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("snapshot tuple: want 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &t.Key); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &t.Value)
}

func (c *Cache) pairStatsKey() string { return cache.GenerateKey(c.prefix, "pair_stats") }
func (c *Cache) hotQuotesKey() string { return cache.GenerateKey(c.prefix, "hot_quotes") }

// SaveSnapshot persists the 50 most recent pair statistics and up to 20
// entries hit at least twice.
func (c *Cache) SaveSnapshot(ctx context.Context) error {
	if c.store == nil {
		return ErrNoStore
	}
	stats, hot := c.snapshot()

	if err := c.store.Save(ctx, c.pairStatsKey(), stats); err != nil {
		return fmt.Errorf("save pair stats: %w", err)
	}
	if err := c.store.Save(ctx, c.hotQuotesKey(), hot); err != nil {
		return fmt.Errorf("save hot quotes: %w", err)
	}
	return nil
}

func (c *Cache) snapshot() ([]tuple[PairStatistic], []tuple[Entry]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := make([]tuple[PairStatistic], 0, len(c.stats))
	for k, s := range c.stats {
		stats = append(stats, tuple[PairStatistic]{Key: k, Value: *s})
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Value.LastRequestedAt.After(stats[j].Value.LastRequestedAt)
	})
	if len(stats) > maxPairStats {
		stats = stats[:maxPairStats]
	}

	hot := make([]tuple[Entry], 0)
	for k, e := range c.entries {
		if e.HitCount >= hotHitCount {
			hot = append(hot, tuple[Entry]{Key: k, Value: *e})
		}
	}
	sort.Slice(hot, func(i, j int) bool {
		if hot[i].Value.HitCount != hot[j].Value.HitCount {
			return hot[i].Value.HitCount > hot[j].Value.HitCount
		}
		return hot[i].Key < hot[j].Key
	})
	if len(hot) > maxHotEntries {
		hot = hot[:maxHotEntries]
	}
	return stats, hot
}

// RestoreSnapshot loads a previous snapshot. Entries older than 30s are
// dropped; the rest are aged to 1.5s so fresh fetches replace them quickly.
func (c *Cache) RestoreSnapshot(ctx context.Context) error {
	if c.store == nil {
		return ErrNoStore
	}

	var stats []tuple[PairStatistic]
	if _, err := c.store.Load(ctx, c.pairStatsKey(), &stats); err != nil {
		return fmt.Errorf("load pair stats: %w", err)
	}
	var hot []tuple[Entry]
	if _, err := c.store.Load(ctx, c.hotQuotesKey(), &hot); err != nil {
		return fmt.Errorf("load hot quotes: %w", err)
	}

	now := c.now()
	restored := 0

	c.mu.Lock()
	for _, t := range stats {
		if len(c.stats) >= maxPairStats {
			break
		}
		if _, ok := c.stats[t.Key]; ok {
			continue
		}
		s := t.Value
		c.stats[t.Key] = &s
	}
	for _, t := range hot {
		e := t.Value
		if e.Quote == nil || now.Sub(e.CreatedAt) > restoreMaxAge {
			continue
		}
		if _, ok := c.entries[t.Key]; ok {
			continue
		}
		if len(c.entries) >= c.cfg.MaxSize {
			break
		}
		e.CreatedAt = now.Add(-restoredAge)
		c.entries[t.Key] = &e
		restored++
	}
	c.mu.Unlock()

	c.log.Info("quote cache snapshot restored",
		logger.Int("pair_stats", len(stats)),
		logger.Int("entries", restored))
	return nil
}
