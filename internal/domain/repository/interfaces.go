package repository

import (
	"context"

	"SwapQuote/internal/domain/models"

	"github.com/shopspring/decimal"
)

// QuoteFetcher fetches a quote from one external source. It may fail.
type QuoteFetcher func(ctx context.Context, inputAsset, outputAsset string, amount decimal.Decimal) (*models.Quote, error)

// HealthChecker probes one service. A returned error counts as an outright failure.
type HealthChecker func(ctx context.Context) (models.ProbeResult, error)

// SnapshotStore is the durable key-value store used for cache snapshots.
// Load reports false when the key does not exist.
type SnapshotStore interface {
	Save(ctx context.Context, key string, value interface{}) error
	Load(ctx context.Context, key string, dest interface{}) (bool, error)
	Ping(ctx context.Context) error
}

// HealthPublisher ships system health snapshots to downstream consumers.
type HealthPublisher interface {
	PublishHealth(ctx context.Context, h *models.SystemHealth) error
	Close() error
}

type Metrics interface {
	RecordFetch(source, outcome string, seconds float64)
	RecordCacheLookup(source string, hit bool)
	RecordBreakerState(name, state string)
	RecordSelection(source string, improvementBps int64)
	RecordServiceHealth(service string, status models.HealthStatus)
	RecordSystemHealth(status models.HealthStatus)
}
