package di

import (
	"context"
	"fmt"

	"SwapQuote/internal/domain/repository"
	"SwapQuote/internal/handler/api"
	internalrepo "SwapQuote/internal/repository"
	"SwapQuote/internal/service/quotecache"
	"SwapQuote/internal/service/ratelimit"
	"SwapQuote/internal/service/resilience"
	"SwapQuote/internal/service/sources"
	"SwapQuote/internal/usecase"
	"SwapQuote/pkg/cache"
	"SwapQuote/pkg/config"
	xhttp "SwapQuote/pkg/http"
	pkgkafka "SwapQuote/pkg/kafka"
	"SwapQuote/pkg/logger"
	"SwapQuote/pkg/metrics"
	"SwapQuote/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
)

const snapshotStoreService = "snapshot-store"

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvidePrometheusRegistry creates the registry scraped at /metrics.
func ProvidePrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config, reg *prometheus.Registry) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New(reg)
}

// ProvideBreakerRegistry creates the shared breaker registry and reports
// every transition to metrics and the log.
func ProvideBreakerRegistry(cfg *config.Config, m repository.Metrics, log *logger.Logger) *resilience.Registry {
	onChange := func(name string, from, to resilience.State) {
		m.RecordBreakerState(name, string(to))
		fields := []logger.Field{
			logger.String("breaker", name),
			logger.String("from", string(from)),
			logger.String("to", string(to)),
		}
		if to == resilience.StateOpen {
			log.Warn("circuit opened", fields...)
			return
		}
		log.Info("circuit state changed", fields...)
	}
	return resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	}, resilience.WithStateChangeListener(onChange))
}

// ProvideSnapshotCache creates the cache holding quote-cache snapshots:
// Redis when enabled, process memory otherwise.
func ProvideSnapshotCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideSnapshotStore creates the snapshot repository.
func ProvideSnapshotStore(c cache.Service, cfg *config.Config) repository.SnapshotStore {
	return internalrepo.NewCacheSnapshotStore(c, cfg.Redis.SnapshotTTL)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when health
// publication is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled || !cfg.Health.Publish {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithWriteTimeout(cfg.Kafka.WriteTimeout),
		pkgkafka.WithBatchTimeout(cfg.Kafka.BatchTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideHealthPublisher creates Kafka publisher repository.
func ProvideHealthPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.HealthPublisher {
	if producer == nil {
		return internalrepo.NopHealthPublisher{}
	}
	return internalrepo.NewKafkaHealthPublisher(producer, cfg.Kafka.HealthTopic)
}

// ProvideRateLimiter creates the limiter shared by all HTTP sources.
func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideQuoteAggregator builds the aggregator and registers every configured source.
func ProvideQuoteAggregator(
	cfg *config.Config,
	breakers *resilience.Registry,
	store repository.SnapshotStore,
	limiter *ratelimit.Limiter,
	m repository.Metrics,
	log *logger.Logger,
) (*usecase.QuoteAggregator, error) {
	cacheCfg, err := quoteCacheConfig(cfg)
	if err != nil {
		return nil, err
	}
	agg := usecase.NewQuoteAggregator(usecase.AggregatorConfig{
		FetchTimeout: cfg.Aggregator.FetchTimeout,
		Retry: resilience.RetryConfig{
			MaxRetries:        cfg.Retry.MaxRetries,
			InitialDelay:      cfg.Retry.InitialDelay,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
			MaxDelay:          cfg.Retry.MaxDelay,
			Jitter:            cfg.Retry.Jitter,
		},
		Cache: cacheCfg,
	}, breakers,
		usecase.WithAggregatorLogger(log),
		usecase.WithAggregatorMetrics(m),
		usecase.WithQuoteSnapshots(store),
	)

	for _, sc := range cfg.Sources {
		opts := []sources.HTTPSourceOption{
			sources.WithFeeBps(sc.FeeBps),
			sources.WithHeaders(sc.Headers),
			sources.WithClient(xhttp.NewClient(xhttp.WithTimeout(sc.Timeout))),
		}
		if sc.RateLimit.Capacity > 0 {
			opts = append(opts, sources.WithRateLimit(limiter, sc.RateLimit.Capacity, sc.RateLimit.RefillPerSecond))
		}
		src := sources.NewHTTPSource(sc.Name, sc.URL, opts...)

		probeAmount, err := decimal.NewFromString(sc.Probe.Amount)
		if err != nil {
			return nil, fmt.Errorf("source %s probe amount: %w", sc.Name, err)
		}
		if err := agg.Register(context.Background(), usecase.SourceConfig{
			Name:        sc.Name,
			Priority:    sc.Priority,
			Enabled:     sc.Enabled,
			Fetch:       src.Fetcher(),
			ProbePair:   quotecache.Pair{Input: sc.Probe.Input, Output: sc.Probe.Output},
			ProbeAmount: probeAmount,
		}); err != nil {
			return nil, fmt.Errorf("register source %s: %w", sc.Name, err)
		}
		log.Info("quote source registered",
			logger.String("source", sc.Name),
			logger.Int("priority", sc.Priority),
			logger.Bool("enabled", sc.Enabled))
	}
	return agg, nil
}

func quoteCacheConfig(cfg *config.Config) (quotecache.Config, error) {
	qc := cfg.QuoteCache
	out := quotecache.Config{
		TTL:                 qc.TTL,
		MaxSize:             qc.MaxSize,
		PredictionThreshold: qc.PredictionThreshold,
		PredictionRefresh:   qc.PredictionRefresh,
		SnapshotInterval:    qc.SnapshotInterval,
		FetchTimeout:        cfg.Aggregator.FetchTimeout,
	}
	for _, p := range qc.HotPairs {
		out.HotPairs = append(out.HotPairs, quotecache.Pair{Input: p.Input, Output: p.Output})
	}
	for _, a := range qc.HotAmounts {
		d, err := decimal.NewFromString(a)
		if err != nil {
			return quotecache.Config{}, fmt.Errorf("quote_cache.hot_amounts: %w", err)
		}
		out.HotAmounts = append(out.HotAmounts, d)
	}
	return out, nil
}

// ProvideHealthMonitor registers one probe per source plus the snapshot store.
func ProvideHealthMonitor(
	cfg *config.Config,
	breakers *resilience.Registry,
	agg *usecase.QuoteAggregator,
	store repository.SnapshotStore,
	publisher repository.HealthPublisher,
	m repository.Metrics,
	log *logger.Logger,
) (*usecase.HealthMonitor, error) {
	mon := usecase.NewHealthMonitor(usecase.MonitorConfig{
		CheckInterval:    cfg.Health.CheckInterval,
		Timeout:          cfg.Health.Timeout,
		LatencyThreshold: cfg.Health.LatencyThreshold,
		ErrorThreshold:   cfg.Health.ErrorThreshold,
	}, breakers,
		usecase.WithMonitorLogger(log),
		usecase.WithMonitorMetrics(m),
		usecase.WithHealthPublisher(publisher),
	)

	for _, sc := range cfg.Sources {
		if err := mon.Register(sc.Name, agg.HealthChecker(sc.Name), sc.Critical); err != nil {
			return nil, err
		}
	}
	if err := mon.Register(snapshotStoreService, internalrepo.StoreChecker(store), cfg.Redis.Critical); err != nil {
		return nil, err
	}
	return mon, nil
}

// ProvideHealthStream creates the websocket health feed.
func ProvideHealthStream(cfg *config.Config, log *logger.Logger, mon *usecase.HealthMonitor) *api.HealthStream {
	return api.NewHealthStream(log, mon, cfg.Server.WSPingInterval)
}

// ProvideHTTPHandler collects every REST and websocket route.
func ProvideHTTPHandler(
	log *logger.Logger,
	agg *usecase.QuoteAggregator,
	breakers *resilience.Registry,
	mon *usecase.HealthMonitor,
	stream *api.HealthStream,
) xhttp.Handler {
	return xhttp.Handlers{
		api.NewQuotesEchoHandler(log, agg),
		api.NewSourcesEchoHandler(log, agg),
		api.NewBreakersEchoHandler(log, breakers),
		api.NewHealthEchoHandler(log, mon),
		stream,
	}
}

// ProvideHTTPServer creates the echo server.
func ProvideHTTPServer(cfg *config.Config, log *logger.Logger, h xhttp.Handler, reg *prometheus.Registry) *xhttp.Server {
	return xhttp.NewServer(log, h,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithPrometheus(reg, reg),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	agg *usecase.QuoteAggregator,
	mon *usecase.HealthMonitor,
	httpServer *xhttp.Server,
	stream *api.HealthStream,
	publisher repository.HealthPublisher,
	snapshots cache.Service,
) *server.App {
	return server.New(cfg, log, agg, mon, httpServer, stream, publisher, snapshots)
}
