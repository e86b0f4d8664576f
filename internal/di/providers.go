package di

import (
	"context"
	"fmt"
	"os"

	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/internal/handler/api"
	mid "SignalFlow/internal/middleware"
	internalrepo "SignalFlow/internal/repository"
	"SignalFlow/internal/service/pricefeed"
	"SignalFlow/internal/service/ratelimit"
	"SignalFlow/internal/services/composer"
	"SignalFlow/internal/services/features"
	"SignalFlow/internal/services/scoring"
	"SignalFlow/internal/usecase"
	"SignalFlow/pkg/cache"
	pkgch "SignalFlow/pkg/clickhouse"
	"SignalFlow/pkg/config"
	xhttp "SignalFlow/pkg/http"
	pkgkafka "SignalFlow/pkg/kafka"
	applogger "SignalFlow/pkg/logger"
	"SignalFlow/pkg/metrics"
	"SignalFlow/pkg/queue"
	"SignalFlow/pkg/retry"
	"SignalFlow/pkg/server"
	"SignalFlow/pkg/util"
)

// ConfigPath is the file the snapshot store reloads from.
type ConfigPath string

func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
		Compress:   cfg.Logger.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder on the default registry.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New(nil)
}

func ProvideSnapshotStore(cfg *config.Config, path ConfigPath) *config.SnapshotStore {
	return config.NewSnapshotStore(cfg, string(path))
}

// ProvideRedisCache connects to Redis when an address is configured.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	c, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

// ProvideCache falls back to the in-process cache without Redis. Leases are
// then only exclusive within this process.
func ProvideCache(rc *cache.RedisCache) cache.Service {
	if rc != nil {
		return rc
	}
	return cache.NewMemoryCache()
}

func ProvideLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideKafkaProducer returns nil when no brokers are configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer returns nil when no brokers are configured.
func ProvideKafkaConsumer(cfg *config.Config, lgr *applogger.Logger) (*pkgkafka.Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(lgr,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerStartOffset(c.StartOffset),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideClickHouseClient returns nil when no host is configured.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.ClickHouse.Host == "" {
		return nil, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

func ProvideOutcomeLedger(cfg *config.Config, ch *pkgch.Client, lgr *applogger.Logger) (domrepo.OutcomeLedger, error) {
	if cfg.Ledger.Backend == "clickhouse" {
		if ch == nil {
			return nil, fmt.Errorf("outcome ledger: clickhouse client not configured")
		}
		return internalrepo.NewCHOutcomeLedger(ch, cfg.Ledger.Table, lgr), nil
	}
	l, err := internalrepo.OpenSQLOutcomeLedger(cfg.Ledger.Driver, cfg.Ledger.DSN, cfg.Ledger.Table)
	if err != nil {
		return nil, fmt.Errorf("outcome ledger: %w", err)
	}
	return l, nil
}

func ProvideSignalStore(c cache.Service) domrepo.SignalStore {
	return internalrepo.NewCacheSignalStore(c)
}

// ProvideLease tags leases with the instance id, or host and pid when unset.
func ProvideLease(cfg *config.Config, c cache.Service) domrepo.OwnershipLease {
	owner := cfg.Engine.InstanceID
	if owner == "" {
		host, _ := os.Hostname()
		owner = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return internalrepo.NewCacheLease(c, owner, cfg.Engine.LeaseTTL)
}

func ProvideQueue(cfg *config.Config, lgr *applogger.Logger, rc *cache.RedisCache) (queue.Runner, error) {
	n := cfg.Notifications
	qc := queue.QueueConfig{
		Workers:    n.Workers,
		QueueSize:  n.QueueSize,
		RetryLimit: n.RetryLimit,
		RetryDelay: n.RetryDelay,
	}
	if n.Queue == "redis" {
		if rc == nil {
			return nil, fmt.Errorf("notification queue: redis not configured")
		}
		return queue.NewRedisQueue(lgr, qc, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue")), nil
	}
	return queue.NewMemoryQueue(lgr, qc), nil
}

// ProvideNotifiers always includes the log sink; Kafka and webhook sinks are
// added when configured.
func ProvideNotifiers(cfg *config.Config, producer *pkgkafka.Producer, lgr *applogger.Logger) []domrepo.Notifier {
	out := []domrepo.Notifier{internalrepo.NewLogNotifier(lgr)}
	if cfg.Notifications.Kafka && producer != nil {
		out = append(out, internalrepo.NewKafkaNotifier(producer, cfg.Kafka.NotificationTopic))
	}
	if cfg.Notifications.WebhookURL != "" {
		out = append(out, internalrepo.NewWebhookNotifier(cfg.Notifications.WebhookURL, cfg.PriceFeed.Timeout))
	}
	return out
}

// ProvideNotificationDispatcher registers the delivery jobs on q. With a
// producer it also ships error log digests to the log topic.
func ProvideNotificationDispatcher(
	cfg *config.Config,
	q queue.Runner,
	notifiers []domrepo.Notifier,
	producer *pkgkafka.Producer,
	m domrepo.Metrics,
	lgr *applogger.Logger,
) *usecase.NotificationDispatcher {
	d := usecase.NewNotificationDispatcher(q, notifiers, m, lgr)
	for _, job := range d.Jobs() {
		q.RegisterJob(job)
	}
	if producer != nil && cfg.Kafka.LogTopic != "" {
		q.RegisterJob(usecase.NewLogDigestJob(producer, cfg.Kafka.LogTopic))
		lgr.AddCollector(&applogger.CollectionConfig{
			Topic:     usecase.LogDigestType,
			Publisher: q,
		})
	}
	return d
}

func ProvideAggregator(cfg *config.Config) *features.Aggregator {
	return features.NewAggregator(cfg.Engine.HistorySize, cfg.Engine.SampleStaleness,
		features.WithMetricKinds(cfg.Engine.MetricKinds))
}

// ProvideIndicatorPipeline drops samples for symbols without valid rules in
// the current snapshot.
func ProvideIndicatorPipeline(agg *features.Aggregator, m domrepo.Metrics, limiter *ratelimit.Limiter, snapshots *config.SnapshotStore) *mid.IndicatorPipeline {
	known := func(symbol string) bool {
		_, err := snapshots.Current().Rules(symbol)
		return err == nil
	}
	return mid.NewIndicatorPipeline(agg, m, limiter,
		mid.WithMaxRPS(50),
		mid.WithBufferSize(2000),
		mid.WithKnownSymbols(known),
	)
}

func ProvideIndicatorHandler(cfg *config.Config, pipe *mid.IndicatorPipeline, m domrepo.Metrics) *usecase.IndicatorSamplesHandler {
	return usecase.NewIndicatorSamplesHandler(cfg.Kafka.IndicatorTopic, pipe, m)
}

func ProvideQuoteBook() *pricefeed.QuoteBook {
	return pricefeed.NewQuoteBook()
}

// ProvidePriceFeed reads the quote book and, with a REST url, falls back to
// polling under the configured retry policy.
func ProvidePriceFeed(cfg *config.Config, book *pricefeed.QuoteBook) domrepo.PriceFeed {
	pf := cfg.PriceFeed
	var fetcher pricefeed.Fetcher
	if pf.RESTURL != "" {
		fetcher = pricefeed.NewRESTPoller(pf.RESTURL, pf.APIKey, pf.Timeout)
	}
	policy := retry.Policy{
		Attempts:   pf.RetryMax + 1,
		BackoffMin: pf.BackoffMin,
		BackoffMax: pf.BackoffMax,
		PerAttempt: pf.Timeout,
	}
	return pricefeed.NewFeed(book, fetcher, policy, cfg.Engine.PriceFreshness)
}

// ProvideQuoteCollector returns nil when no stream url is configured.
func ProvideQuoteCollector(cfg *config.Config, snapshots *config.SnapshotStore, book *pricefeed.QuoteBook, m domrepo.Metrics, lgr *applogger.Logger) *usecase.QuoteCollector {
	pf := cfg.PriceFeed
	if pf.WebSocketURL == "" {
		return nil
	}
	symbols := snapshots.Current().Symbols()
	stream := pricefeed.NewStreamClient(pf.APIKey, pf.WebSocketURL, pf.ReconnectDelay, pf.PingInterval, lgr)
	return usecase.NewQuoteCollector(stream, book, symbols, m, lgr)
}

func ProvideAlarmGuard(cfg *config.Config, limiter *ratelimit.Limiter, events *usecase.NotificationDispatcher, m domrepo.Metrics, lgr *applogger.Logger) *usecase.AlarmGuard {
	return usecase.NewAlarmGuard(usecase.GuardConfig{
		Budget:        cfg.Engine.TimeoutBudget,
		Window:        cfg.Engine.BudgetWindow,
		PauseFor:      cfg.Engine.PauseDuration,
		AlarmInterval: cfg.Notifications.AlarmInterval,
	}, limiter, events, m, lgr)
}

func ProvideConfidenceMonitor(snapshots *config.SnapshotStore) *composer.ConfidenceMonitor {
	return composer.NewConfidenceMonitor(snapshots.Current().Default.Dispersion.Window)
}

func ProvideOutcomeRecorder(
	cfg *config.Config,
	ledger domrepo.OutcomeLedger,
	confidence *composer.ConfidenceMonitor,
	guard *usecase.AlarmGuard,
	m domrepo.Metrics,
	lgr *applogger.Logger,
) *usecase.OutcomeRecorder {
	l := cfg.Ledger
	policy := retry.Policy{
		Attempts:   l.RetryMax,
		BackoffMin: l.BackoffMin,
		BackoffMax: l.BackoffMax,
		PerAttempt: l.WriteTimeout,
	}
	return usecase.NewOutcomeRecorder(ledger, policy, confidence, guard, m, lgr)
}

func ProvideEvaluator(agg *features.Aggregator, prices domrepo.PriceFeed) *usecase.Evaluator {
	return usecase.NewEvaluator(agg, scoring.NewScorer(), composer.NewComposer(), prices)
}

func ProvideLifecycleMonitor(agg *features.Aggregator, prices domrepo.PriceFeed, lgr *applogger.Logger) *usecase.LifecycleMonitor {
	return usecase.NewLifecycleMonitor(agg, scoring.NewScorer(), prices, lgr)
}

func ProvideWorkerDeps(
	cfg *config.Config,
	snapshots *config.SnapshotStore,
	evaluator *usecase.Evaluator,
	monitor *usecase.LifecycleMonitor,
	recorder *usecase.OutcomeRecorder,
	store domrepo.SignalStore,
	lease domrepo.OwnershipLease,
	events *usecase.NotificationDispatcher,
	guard *usecase.AlarmGuard,
	m domrepo.Metrics,
	lgr *applogger.Logger,
) *usecase.WorkerDeps {
	return &usecase.WorkerDeps{
		Snapshots:    snapshots,
		Evaluator:    evaluator,
		Monitor:      monitor,
		Recorder:     recorder,
		Store:        store,
		Lease:        lease,
		Events:       events,
		Guard:        guard,
		Metrics:      m,
		Log:          lgr,
		WriteTimeout: cfg.Ledger.WriteTimeout,
	}
}

func ProvideEngine(deps *usecase.WorkerDeps, snapshots *config.SnapshotStore) *usecase.Engine {
	return usecase.NewEngine(deps, snapshots)
}

func ProvideStatsService(ledger domrepo.OutcomeLedger) *usecase.StatsService {
	return usecase.NewStatsService(ledger, util.ReportPeriods)
}

func ProvideReportScheduler(cfg *config.Config, stats *usecase.StatsService, events *usecase.NotificationDispatcher, lgr *applogger.Logger) *usecase.ReportScheduler {
	return usecase.NewReportScheduler(stats, events, cfg.Engine.ReportInterval, lgr)
}

// ProvideAPIHandler exposes the engine with health checks for every
// configured backend.
func ProvideAPIHandler(
	lgr *applogger.Logger,
	engine *usecase.Engine,
	stats *usecase.StatsService,
	ledger domrepo.OutcomeLedger,
	collector *usecase.QuoteCollector,
) *api.EngineHandler {
	checks := []api.HealthCheck{{Name: "ledger", Check: ledger.Health}}
	if collector != nil {
		checks = append(checks, api.HealthCheck{Name: "price_stream", Check: func(_ context.Context) error {
			if !collector.IsConnected() {
				return fmt.Errorf("price stream disconnected")
			}
			return nil
		}})
	}
	return api.NewEngineHandler(lgr, engine, stats, ledger, checks...)
}

func ProvideHTTPServer(cfg *config.Config, lgr *applogger.Logger, h *api.EngineHandler) *xhttp.Server {
	s := cfg.Server
	return xhttp.NewServer(lgr, []xhttp.Handler{h},
		xhttp.WithPort(s.Port),
		xhttp.WithTimeouts(s.ReadTimeout, s.WriteTimeout, s.ShutdownTimeout),
	)
}

func ProvideApp(
	cfg *config.Config,
	lgr *applogger.Logger,
	engine *usecase.Engine,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	indicators *usecase.IndicatorSamplesHandler,
	pipeline *mid.IndicatorPipeline,
	collector *usecase.QuoteCollector,
	q queue.Runner,
	reports *usecase.ReportScheduler,
	ledger domrepo.OutcomeLedger,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	rc *cache.RedisCache,
) *server.App {
	return server.New(server.Components{
		Config:     cfg,
		Logger:     lgr,
		Engine:     engine,
		HTTP:       httpServer,
		Consumer:   consumer,
		Indicators: indicators,
		Pipeline:   pipeline,
		Collector:  collector,
		Queue:      q,
		Reports:    reports,
		Ledger:     ledger,
		Producer:   producer,
		ClickHouse: ch,
		Redis:      rc,
	})
}

