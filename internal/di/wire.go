//go:build wireinject
// +build wireinject

package di

import (
	"SignalFlow/pkg/config"
	"SignalFlow/pkg/server"

	"github.com/google/wire"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideSnapshotStore,
	ProvideRedisCache,
	ProvideCache,
	ProvideLimiter,
	ProvideKafkaProducer,
	ProvideKafkaConsumer,
	ProvideClickHouseClient,
)

var repositorySet = wire.NewSet(
	ProvideOutcomeLedger,
	ProvideSignalStore,
	ProvideLease,
	ProvideQueue,
	ProvideNotifiers,
	ProvideQuoteBook,
	ProvidePriceFeed,
)

var engineSet = wire.NewSet(
	ProvideNotificationDispatcher,
	ProvideAggregator,
	ProvideIndicatorPipeline,
	ProvideIndicatorHandler,
	ProvideQuoteCollector,
	ProvideAlarmGuard,
	ProvideConfidenceMonitor,
	ProvideOutcomeRecorder,
	ProvideEvaluator,
	ProvideLifecycleMonitor,
	ProvideWorkerDeps,
	ProvideEngine,
	ProvideStatsService,
	ProvideReportScheduler,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config, path ConfigPath) (*server.App, error) {
	wire.Build(
		infraSet,
		repositorySet,
		engineSet,
		ProvideAPIHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}

