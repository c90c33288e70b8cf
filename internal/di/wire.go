//go:build wireinject
// +build wireinject

package di

import (
	"SignalPulse/pkg/config"
	"SignalPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideCache,
		ProvideClickHouseClient,

		// Repositories
		ProvideSignalJournal,
		ProvidePriceProvider,

		// Domain services
		ProvideLimiter,
		ProvideTrackedSymbols,
		ProvideHistoryStore,
		ProvideIndicatorEngine,
		ProvideSignalGenerator,
		ProvideSignalCache,

		// Use cases
		ProvidePriceFetcher,
		ProvideHub,
		ProvideSinks,
		ProvideCalculationCycle,
		ProvideScheduler,
		ProvideKafkaConsumer,

		// Transport
		ProvideSignalsHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
