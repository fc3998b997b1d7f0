//go:build wireinject
// +build wireinject

package di

import (
	"MirrorTrader/pkg/config"
	"MirrorTrader/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideCacheService,
		ProvideGormDB,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Quota and liveness
		ProvideQuotaCounter,
		ProvideQuotaLedger,
		ProvideVideoClient,
		ProvideChannelStore,
		ProvideMarketHours,
		ProvideScheduler,
		ProvidePoller,

		// Trade pipeline
		ProvideTradeStore,
		ProvideLocalPublisher,
		ProvideTradePublisher,
		ProvideTicks,
		ProvideCorrelator,
		ProvideVisionDetector,
		ProvideVerbalDetector,
		ProvideAnalyzer,

		// Execution
		ProvidePolicyStore,
		ProvideBroker,
		ProvideExecutor,
		ProvideTradeEventHandler,

		// HTTP surface
		ProvideAuthMiddleware,
		ProvidePollHandler,
		ProvideAnalyzeHandler,
		ProvideChatFactory,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
