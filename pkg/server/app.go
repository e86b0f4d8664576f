package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	domrepo "SignalFlow/internal/domain/repository"
	mid "SignalFlow/internal/middleware"
	"SignalFlow/internal/usecase"
	"SignalFlow/pkg/cache"
	pkgch "SignalFlow/pkg/clickhouse"
	"SignalFlow/pkg/config"
	xhttp "SignalFlow/pkg/http"
	pkgkafka "SignalFlow/pkg/kafka"
	applogger "SignalFlow/pkg/logger"
	"SignalFlow/pkg/queue"
)

// Components are the parts App starts and stops. Consumer, Collector,
// Producer, ClickHouse and Redis are optional.
type Components struct {
	Config     *config.Config
	Logger     *applogger.Logger
	Engine     *usecase.Engine
	HTTP       *xhttp.Server
	Consumer   *pkgkafka.Consumer
	Indicators pkgkafka.MessageHandler
	Pipeline   *mid.IndicatorPipeline
	Collector  *usecase.QuoteCollector
	Queue      queue.Runner
	Reports    *usecase.ReportScheduler
	Ledger     domrepo.OutcomeLedger
	Producer   *pkgkafka.Producer
	ClickHouse *pkgch.Client
	Redis      *cache.RedisCache
}

// App encapsulates the entire application lifecycle.
type App struct {
	Components
	log *applogger.Logger
}

func New(c Components) *App {
	return &App{Components: c, log: c.Logger}
}

// Run starts every component and blocks until SIGINT or SIGTERM. SIGHUP
// reloads the configuration in place.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(ctx); err != nil {
		_ = a.shutdown()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			a.reload(ctx)
			continue
		}
		a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))
		break
	}
	return a.shutdown()
}

func (a *App) start(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.Ledger.Init(initCtx); err != nil {
		return err
	}

	if err := a.Queue.Start(); err != nil {
		return err
	}

	a.Pipeline.Start(ctx)

	if err := a.Engine.Start(ctx); err != nil {
		return err
	}

	if a.Collector != nil {
		if err := a.Collector.Start(ctx); err != nil {
			// the REST fallback still serves prices; the stream retries on read
			a.log.Error("price stream start failed", applogger.Error(err))
		} else {
			a.log.Info("price stream started")
		}
	}

	if a.Consumer != nil && a.Indicators != nil {
		a.Consumer.RegisterHandler(a.Indicators)
		if err := a.Consumer.Start(); err != nil {
			return err
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.Indicators.Topic()))
	} else {
		a.log.Warn("no kafka brokers configured, indicator samples will not arrive")
	}

	a.Reports.Start(ctx)

	return a.HTTP.Start()
}

func (a *App) reload(ctx context.Context) {
	snap, err := a.Engine.Reload(ctx)
	if err != nil {
		a.log.Error("config reload rejected", applogger.Error(err))
		return
	}
	a.log.Info("config reloaded",
		applogger.Int64("version", snap.Version),
		applogger.Int("symbols", len(snap.Symbols())),
	)
}

// shutdown stops intake first, then lets the engine flush pending ledger
// writes before the sinks close.
func (a *App) shutdown() error {
	a.log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	step := func(name string, err error) {
		if err != nil {
			a.log.Warn(name+" stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	step("http", a.HTTP.Stop(ctx))
	if a.Consumer != nil {
		step("kafka consumer", a.Consumer.Stop(ctx))
	}
	if a.Collector != nil {
		step("price stream", a.Collector.Stop())
	}
	a.Pipeline.Stop()
	step("engine", a.Engine.Stop(ctx))
	a.Reports.Stop()
	step("queue", a.Queue.Stop(ctx))

	a.log.RemoveCollector()
	if a.Producer != nil {
		step("kafka producer", a.Producer.Close())
	}
	step("ledger", a.Ledger.Close())
	if a.ClickHouse != nil {
		step("clickhouse", a.ClickHouse.Close())
	}
	if a.Redis != nil {
		step("redis", a.Redis.Close())
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
