package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/bundler"
	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/crawlengine"
	"github.com/ternarybob/quaero/internal/handlers"
	"github.com/ternarybob/quaero/internal/processor"
	"github.com/ternarybob/quaero/internal/push"
	"github.com/ternarybob/quaero/internal/queue"
	"github.com/ternarybob/quaero/internal/retention"
	"github.com/ternarybob/quaero/internal/services/mailer"
	"github.com/ternarybob/quaero/internal/stats"
	"github.com/ternarybob/quaero/internal/storage"
	"github.com/ternarybob/quaero/internal/validation"
)

// wakeQueueName is the goqite queue name backing the processor wake signal.
// It carries no job payloads, only "something changed, re-check" pings.
const wakeQueueName = "scan-wake"

// App holds all application components and dependencies, wired once at
// startup and closed once at shutdown.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	ctx       context.Context
	cancelCtx context.CancelFunc

	Stores    *storage.Stores
	Validator *validation.Validator
	Engine    *crawlengine.Engine
	Wake      *queue.Manager
	Queue     *queue.FairShareQueue
	Tracker   *stats.Tracker
	Pusher    *push.Service
	Bundler   *bundler.Bundler
	Processor *processor.Processor
	Sweeper   *retention.Sweeper
	Mailer    *mailer.Service

	APIHandler  *handlers.APIHandler
	PushHandler *handlers.PushHandler
	ScanHandler *handlers.ScanHandler
}

// New initializes the application with all dependencies and starts its
// background loops (queue processor, retention sweeper).
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}
	a.ctx, a.cancelCtx = context.WithCancel(context.Background())

	if err := a.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := a.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.initHandlers()

	common.SafeGoWithContext(a.ctx, a.Logger, "queue-processor", func() {
		a.Processor.Run(a.ctx)
	})
	a.Logger.Info().Msg("queue processor started")

	if err := a.Sweeper.Start(a.ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("failed to start retention sweeper")
	} else {
		a.Logger.Info().Msg("retention sweeper started")
	}

	a.Logger.Info().
		Int("max_concurrent_scans", cfg.Queue.MaxConcurrentScans).
		Int("max_pages_per_scan", cfg.Crawler.MaxPagesPerScan).
		Msg("application initialization complete")

	return a, nil
}

// initStorage wires the SQLite/Badger storage layer.
func (a *App) initStorage() error {
	stores, err := storage.NewStores(a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.Stores = stores

	a.Logger.Info().
		Str("sqlite_path", a.Config.SQLite.Path).
		Str("badger_path", a.Config.Badger.Path).
		Msg("storage layer initialized")

	return nil
}

// initServices wires the scan admission, crawl, and delivery pipeline:
// validator -> fair-share queue -> crawl engine -> processor -> push/stats,
// plus the converted-image bundler and retention sweeper.
func (a *App) initServices() error {
	a.Validator = validation.NewValidator()

	wakeMgr, err := queue.NewManager(a.Stores.Manager.DB().(*sql.DB), wakeQueueName)
	if err != nil {
		return fmt.Errorf("failed to initialize wake queue: %w", err)
	}
	a.Wake = wakeMgr

	a.Queue = queue.NewFairShareQueue(
		a.Stores.Manager.ScanJobStore(),
		a.Stores.Limiter,
		a.Wake,
		a.Config.Queue,
		a.Logger,
	)

	a.Engine = crawlengine.NewEngine(a.Config.Crawler, a.Validator, a.Logger)
	a.Tracker = stats.NewTracker()
	a.Pusher = push.NewService(a.Logger)

	bundleTTL := time.Duration(a.Config.Retention.BundleExpiryHours) * time.Hour
	if bundleTTL <= 0 {
		bundleTTL = 24 * time.Hour
	}
	a.Bundler = bundler.New(a.Stores.Manager.ConvertedImageBundleStore(), a.Config.Retention.BundleDir, bundleTTL, a.Logger)

	a.Processor = processor.New(
		a.Queue,
		a.Engine,
		a.Stores.Manager,
		a.Wake,
		a.Tracker,
		a.Pusher,
		a.Config.Queue,
		a.Config.Crawler,
		a.Logger,
	).WithBundler(a.Bundler)

	a.Sweeper = retention.New(a.Stores.Manager, a.Config.Retention, a.Logger)

	a.Mailer = mailer.NewService(a.Stores.Manager.KeyValueStorage(), a.Logger)

	return nil
}

// initHandlers wires the HTTP handler set over the services built above.
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger, a.Stores.Manager.ScanJobStore(), a.Mailer)
	a.PushHandler = handlers.NewPushHandler(a.Pusher, a.Tracker, a.Logger)
	a.ScanHandler = handlers.NewScanHandler(
		a.Queue,
		a.Stores.Manager.ScanJobStore(),
		a.Stores.Manager.DiscoveredImageStore(),
		a.Stores.Manager.AggregateStatsStore(),
		a.Stores.Manager.ConvertedImageBundleStore(),
		a.Validator,
		a.Tracker,
		a.Logger,
	)
}

// Close shuts down all background loops and backing stores.
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.Logger.Info().Msg("stopping background loops")
		a.cancelCtx()
		time.Sleep(100 * time.Millisecond)
	}

	a.Logger.Info().Msg("flushing context logs")
	common.Stop()

	if a.Wake != nil {
		if err := a.Wake.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close wake queue")
		}
	}

	if a.Stores != nil {
		if err := a.Stores.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("storage closed")
	}

	return nil
}
