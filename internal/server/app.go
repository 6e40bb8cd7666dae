// Package server builds the warmup service from configuration and owns its lifecycle.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/asset-warmup/internal/api"
	"github.com/JakeFAU/asset-warmup/internal/archive"
	"github.com/JakeFAU/asset-warmup/internal/assetcache"
	"github.com/JakeFAU/asset-warmup/internal/clock/system"
	"github.com/JakeFAU/asset-warmup/internal/config"
	"github.com/JakeFAU/asset-warmup/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/asset-warmup/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/asset-warmup/internal/fetcher/headless"
	"github.com/JakeFAU/asset-warmup/internal/hash/sha256"
	"github.com/JakeFAU/asset-warmup/internal/headless/detector"
	"github.com/JakeFAU/asset-warmup/internal/id/uuid"
	"github.com/JakeFAU/asset-warmup/internal/logging"
	"github.com/JakeFAU/asset-warmup/internal/metrics"
	"github.com/JakeFAU/asset-warmup/internal/pipeline"
	"github.com/JakeFAU/asset-warmup/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/asset-warmup/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/asset-warmup/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/asset-warmup/internal/queue/memory"
	"github.com/JakeFAU/asset-warmup/internal/resolver"
	gcsstorage "github.com/JakeFAU/asset-warmup/internal/storage/gcs"
	"github.com/JakeFAU/asset-warmup/internal/storage/lifecycle"
	localstorage "github.com/JakeFAU/asset-warmup/internal/storage/local"
	memoryStorage "github.com/JakeFAU/asset-warmup/internal/storage/memory"
	pgstore "github.com/JakeFAU/asset-warmup/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/asset-warmup/internal/storage/sqlite"
	"github.com/JakeFAU/asset-warmup/internal/warmup"
	"github.com/JakeFAU/asset-warmup/internal/worker"
)

const (
	shutdownTimeout    = 10 * time.Second
	resolveConcurrency = 4
)

// App contains the service's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	collector *pipeline.Collector

	resources warmup.ResourceStore
	usedCSS   warmup.Table
	queue     warmup.PendingQueue

	memQueue        *queueMemory.Queue
	sqlDB           *sql.DB
	pgPool          *pgxpool.Pool
	gcsClient       *storage.Client
	archiver        *archive.Archiver
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	headless        *headlessfetcher.Fetcher
}

// Build creates the service's dependencies. Partially built resources are released
// when an error is returned.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
			app = nil
		}
	}()

	metrics.Init()
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)

	logger.Info("building service dependencies",
		zap.String("site", cfg.Site.BaseURL),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
	)

	if err = app.setupStorage(ctx); err != nil {
		return app, err
	}
	if cfg.Storage.AutoInstall {
		if err = app.InstallTables(ctx); err != nil {
			return app, err
		}
	}
	archiver, err := app.setupArchive(ctx)
	if err != nil {
		return app, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return app, err
	}
	res, err := app.setupResolver()
	if err != nil {
		return app, err
	}

	app.dispatch = app.setupDispatcher(archiver, publisher)
	app.collector = pipeline.New(
		res,
		app.dispatch,
		uuid.New(),
		system.New(),
		pipeline.Config{ResolveConcurrency: resolveConcurrency},
		logging.Component(logger, "collector"),
	)

	deps := api.Deps{
		Collector: app.collector,
		Batches:   app.dispatch,
		Resources: app.resources,
		Probe: collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Assets.UserAgent,
			Timeout:   time.Duration(cfg.Pages.NavTimeoutSeconds) * time.Second,
		}),
	}
	if cfg.Pages.HeadlessEnabled {
		app.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Pages.HeadlessMaxParallel,
			UserAgent:         cfg.Assets.UserAgent,
			NavigationTimeout: time.Duration(cfg.Pages.NavTimeoutSeconds) * time.Second,
		}, logging.Component(logger, "headless"))
		if err != nil {
			return app, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		deps.Headless = app.headless
		deps.Detector = detector.NewHeuristic(cfg.Pages.PromotionThreshold)
		logger.Info("headless promotion enabled", zap.Int("max_parallel", cfg.Pages.HeadlessMaxParallel))
	}
	app.apiServer = api.NewServer(deps, cfg, logging.Component(logger, "api"))
	return app, nil
}

// Collector exposes the page collector for in-process callers.
func (a *App) Collector() *pipeline.Collector {
	return a.collector
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and drains the pending queue until ctx is done. Shutdown drains
// HTTP first, then stops the dispatcher, then releases storage.
func (a *App) Run(ctx context.Context) error {
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Dispatcher.Workers))
		a.dispatch.Run(dispatchCtx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			a.logger.Error("http server error", zap.Error(err))
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	stopDispatch()
	wg.Wait()

	a.Close()
	return runErr
}

// Close releases queue, storage, and client resources.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.archiver != nil {
		a.archiver.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.sqlDB != nil {
		if err := a.sqlDB.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
}

func (a *App) setupStorage(ctx context.Context) error {
	s := a.cfg.Storage
	switch s.Backend {
	case config.BackendSQLite:
		db, err := sqlitestore.Open(ctx, s.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite open failed: %w", err)
		}
		a.sqlDB = db
		resources, err := sqlitestore.NewResourceStore(db, s.ResourcesTable)
		if err != nil {
			return fmt.Errorf("sqlite resource store init failed: %w", err)
		}
		usedCSS, err := sqlitestore.NewUsedCSSTable(db, s.UsedCSSTable)
		if err != nil {
			return fmt.Errorf("sqlite used css table init failed: %w", err)
		}
		queue, err := sqlitestore.NewPendingQueue(db, s.PendingTable)
		if err != nil {
			return fmt.Errorf("sqlite pending queue init failed: %w", err)
		}
		a.resources, a.usedCSS, a.queue = resources, usedCSS, queue
		a.logger.Info("using sqlite storage backend", zap.String("path", s.SQLitePath))
	case config.BackendPostgres:
		pool, err := pgstore.Connect(ctx, pgstore.Config{DSN: s.PostgresDSN})
		if err != nil {
			return fmt.Errorf("postgres connect failed: %w", err)
		}
		a.pgPool = pool
		resources, err := pgstore.NewResourceStore(pool, s.ResourcesTable)
		if err != nil {
			return fmt.Errorf("postgres resource store init failed: %w", err)
		}
		usedCSS, err := pgstore.NewUsedCSSTable(pool, s.UsedCSSTable)
		if err != nil {
			return fmt.Errorf("postgres used css table init failed: %w", err)
		}
		queue, err := pgstore.NewPendingQueue(pool, s.PendingTable)
		if err != nil {
			return fmt.Errorf("postgres pending queue init failed: %w", err)
		}
		a.resources, a.usedCSS, a.queue = resources, usedCSS, queue
		a.logger.Info("using postgres storage backend", zap.String("resources_table", resources.Name()))
	default:
		a.memQueue = queueMemory.NewQueue()
		a.resources = memoryStorage.NewResourceStore(s.ResourcesTable)
		a.usedCSS = memoryStorage.NewUsedCSSTable(s.UsedCSSTable)
		a.queue = a.memQueue
		a.logger.Warn("using in-memory storage backend; pending work is lost on restart")
	}
	return nil
}

// OpenStorage connects only the storage backend. It serves table maintenance
// commands that must not touch the site, cache, or publishers.
func OpenStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	if err := app.setupStorage(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

// Tables lists every durable table of the configured backend.
func (a *App) Tables() []warmup.Table {
	tables := []warmup.Table{a.resources, a.usedCSS}
	if t, ok := a.queue.(warmup.Table); ok {
		tables = append(tables, t)
	}
	return tables
}

// InstallTables creates any missing table.
func (a *App) InstallTables(ctx context.Context) error {
	if err := lifecycle.InstallAll(ctx, logging.Component(a.logger, "lifecycle"), a.Tables()...); err != nil {
		return fmt.Errorf("install tables failed: %w", err)
	}
	return nil
}

// DropTables removes every existing table.
func (a *App) DropTables(ctx context.Context) error {
	if err := lifecycle.DropAll(ctx, logging.Component(a.logger, "lifecycle"), a.Tables()...); err != nil {
		return fmt.Errorf("drop tables failed: %w", err)
	}
	return nil
}

// setupArchive returns a nil interface when archiving is off.
func (a *App) setupArchive(ctx context.Context) (worker.Archiver, error) {
	var (
		blobs warmup.BlobStore
		err   error
	)
	arc := a.cfg.Archive
	switch arc.Backend {
	case config.ArchiveGCS:
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{Bucket: arc.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS archive", zap.String("bucket", arc.GCSBucket))
	case config.ArchiveLocal:
		blobs, err = localstorage.New(localstorage.Config{BaseDir: arc.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("using local archive", zap.String("path", arc.LocalDir))
	case config.ArchiveMemory:
		blobs = memoryStorage.NewBlobStore()
		a.logger.Info("using in-memory archive")
	default:
		a.logger.Info("revision archive disabled")
		return nil, nil
	}
	a.archiver, err = archive.New(blobs, arc.Prefix)
	if err != nil {
		return nil, fmt.Errorf("archive init failed: %w", err)
	}
	return a.archiver, nil
}

func (a *App) setupPublisher(ctx context.Context) (warmup.Publisher, error) {
	ps := a.cfg.PubSub
	if ps.TopicName == "" || ps.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, ps.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = gcppublisher.New(a.pubsubClient.Publisher(ps.TopicName))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupResolver() (*resolver.Resolver, error) {
	assets := a.cfg.Assets
	cacheStore, err := localstorage.New(localstorage.Config{BaseDir: assets.CacheDir})
	if err != nil {
		return nil, fmt.Errorf("asset cache dir init failed: %w", err)
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   assets.RatePerHost,
		DefaultBurst: assets.Burst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   assets.UserAgent,
		Timeout:     a.cfg.AssetTimeout(),
		MaxBodySize: int(assets.MaxBytes),
		Limiter:     limiter,
	})
	cache, err := assetcache.New(cacheStore, fetcher, sha256.New(), logging.Component(a.logger, "assetcache"))
	if err != nil {
		return nil, fmt.Errorf("asset cache init failed: %w", err)
	}
	res, err := resolver.New(resolver.Site{
		BaseURL:      a.cfg.Site.BaseURL,
		DocumentRoot: a.cfg.Site.DocumentRoot,
		CDNHosts:     a.cfg.Site.CDNHosts,
	}, pipeline.Zones(), cache)
	if err != nil {
		return nil, fmt.Errorf("resolver init failed: %w", err)
	}
	a.logger.Info("asset resolver ready",
		zap.String("document_root", a.cfg.Site.DocumentRoot),
		zap.String("cache_dir", assets.CacheDir),
		zap.Float64("rate_per_host", assets.RatePerHost),
	)
	return res, nil
}

func (a *App) setupDispatcher(archiver worker.Archiver, publisher warmup.Publisher) *dispatcher.Dispatcher {
	hasher := sha256.New()
	clock := system.New()
	workerCfg := worker.Config{Topic: a.cfg.PubSub.TopicName}

	procs := make([]dispatcher.Processor, 0, a.cfg.Dispatcher.Workers)
	for i := range a.cfg.Dispatcher.Workers {
		procs = append(procs, worker.New(
			a.queue,
			a.resources,
			archiver,
			publisher,
			hasher,
			clock,
			workerCfg,
			logging.Component(a.logger, "worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(a.queue, procs, dispatcher.Config{
		RetryInterval: a.cfg.Dispatcher.RetryInterval,
		DrainLimit:    a.cfg.Dispatcher.DrainLimit,
	}, logging.Component(a.logger, "dispatcher"))
}
