package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"SwapQuote/internal/domain/repository"
	"SwapQuote/internal/handler/api"
	"SwapQuote/internal/usecase"
	"SwapQuote/pkg/cache"
	"SwapQuote/pkg/config"
	xhttp "SwapQuote/pkg/http"
	applogger "SwapQuote/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	aggregator *usecase.QuoteAggregator
	monitor    *usecase.HealthMonitor
	httpServer *xhttp.Server
	stream     *api.HealthStream
	publisher  repository.HealthPublisher
	snapshots  cache.Service

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a new App instance with all dependencies. snapshots may be nil.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	aggregator *usecase.QuoteAggregator,
	monitor *usecase.HealthMonitor,
	httpServer *xhttp.Server,
	stream *api.HealthStream,
	publisher repository.HealthPublisher,
	snapshots cache.Service,
) *App {
	if log == nil {
		log = applogger.NewNop()
	}
	return &App{
		cfg:        cfg,
		log:        log,
		aggregator: aggregator,
		monitor:    monitor,
		httpServer: httpServer,
		stream:     stream,
		publisher:  publisher,
		snapshots:  snapshots,
	}
}

// Aggregator exposes the quote aggregator.
func (a *App) Aggregator() *usecase.QuoteAggregator { return a.aggregator }

// Monitor exposes the health monitor.
func (a *App) Monitor() *usecase.HealthMonitor { return a.monitor }

// Start restores cache snapshots and launches the background loops and the
// HTTP server. Calling it again is a no-op.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	if err := a.aggregator.Start(ctx); err != nil {
		return fmt.Errorf("start aggregator: %w", err)
	}
	if err := a.monitor.Start(ctx); err != nil {
		_ = a.aggregator.Stop(ctx)
		return fmt.Errorf("start health monitor: %w", err)
	}
	if err := a.httpServer.Start(); err != nil {
		a.monitor.Stop()
		_ = a.aggregator.Stop(ctx)
		return fmt.Errorf("start http server: %w", err)
	}

	a.started = true
	a.log.Info("swapquote started",
		applogger.String("env", a.cfg.Environment),
		applogger.Int("sources", len(a.aggregator.Sources())))
	return nil
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		a.log.Error("start failed", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	sig := <-sigCh

	a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))
	shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer stop()
	return a.Shutdown(shutdownCtx)
}

// Shutdown stops the HTTP server and background loops, writes the final
// cache snapshots and then closes Kafka and the snapshot cache. Safe to
// call twice.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return nil
	}
	a.stopped = true
	a.log.Info("shutting down...")

	var errs []error
	if a.started {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if err := a.stream.Close(); err != nil {
		a.log.Warn("health stream close error", applogger.Error(err))
	}

	a.monitor.Stop()

	// final snapshots need the cache still open
	if err := a.aggregator.Stop(ctx); err != nil {
		a.log.Warn("aggregator stop error", applogger.Error(err))
		errs = append(errs, err)
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("health publisher close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.snapshots != nil {
		if err := a.snapshots.Close(); err != nil {
			a.log.Warn("snapshot cache close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
