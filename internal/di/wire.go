//go:build wireinject
// +build wireinject

package di

import (
	"SwapQuote/pkg/config"
	"SwapQuote/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvidePrometheusRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideSnapshotCache,
		ProvideKafkaProducer,

		// Repositories
		ProvideSnapshotStore,
		ProvideHealthPublisher,

		// Services
		ProvideBreakerRegistry,
		ProvideRateLimiter,

		// Use cases
		ProvideQuoteAggregator,
		ProvideHealthMonitor,

		// Transport
		ProvideHealthStream,
		ProvideHTTPHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
