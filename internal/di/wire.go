//go:build wireinject
// +build wireinject

package di

import (
	"AlphaBlend/pkg/config"
	"AlphaBlend/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideCache,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideModelService,

		// Repositories
		ProvideDecisionStore,
		ProvideStateStore,

		// Domain services and use cases
		ProvideAllocator,
		ProvidePodRegistry,
		ProvideHub,
		ProvideDecisionEngine,
		ProvideIngestPipeline,
		ProvideScheduler,

		// Transports
		ProvideAlphaHandler,
		ProvideHTTPServer,
		ProvideKafkaHandlers,

		ProvideApp,
	)
	return &server.App{}, nil
}
