package repository

import (
	"context"
	"errors"
	"time"

	"SwapQuote/internal/domain/models"
	"SwapQuote/internal/domain/repository"
	"SwapQuote/pkg/cache"
)

// CacheSnapshotStore keeps quote-cache snapshots in a cache.Service (Redis in
// production, memory in single-node mode).
type CacheSnapshotStore struct {
	cache cache.Service
	ttl   time.Duration
}

// NewCacheSnapshotStore creates a snapshot store. Keys expire after ttl; zero keeps them 24h.
func NewCacheSnapshotStore(c cache.Service, ttl time.Duration) repository.SnapshotStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CacheSnapshotStore{cache: c, ttl: ttl}
}

func (s *CacheSnapshotStore) Save(ctx context.Context, key string, value interface{}) error {
	return s.cache.Set(ctx, key, value, s.ttl)
}

func (s *CacheSnapshotStore) Load(ctx context.Context, key string, dest interface{}) (bool, error) {
	err := s.cache.Get(ctx, key, dest)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *CacheSnapshotStore) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// StoreChecker probes a snapshot store by pinging it.
func StoreChecker(store repository.SnapshotStore) repository.HealthChecker {
	return func(ctx context.Context) (models.ProbeResult, error) {
		started := time.Now()
		err := store.Ping(ctx)
		res := models.ProbeResult{OK: err == nil, LatencyMs: time.Since(started).Milliseconds()}
		if err != nil {
			res.Message = err.Error()
		}
		return res, nil
	}
}
