// Package app builds the long-lived services behind every datapull command
// and runs the serve loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/datapull/internal/api"
	"github.com/JakeFAU/datapull/internal/chunker"
	"github.com/JakeFAU/datapull/internal/chunkstore"
	"github.com/JakeFAU/datapull/internal/clock/system"
	"github.com/JakeFAU/datapull/internal/config"
	"github.com/JakeFAU/datapull/internal/crawler"
	collyfetcher "github.com/JakeFAU/datapull/internal/fetcher/colly"
	"github.com/JakeFAU/datapull/internal/hash/sha256"
	"github.com/JakeFAU/datapull/internal/id/uuid"
	"github.com/JakeFAU/datapull/internal/ingest"
	"github.com/JakeFAU/datapull/internal/logging"
	"github.com/JakeFAU/datapull/internal/metrics"
	"github.com/JakeFAU/datapull/internal/oplog"
	"github.com/JakeFAU/datapull/internal/orchestrator"
	"github.com/JakeFAU/datapull/internal/progress"
	progresssinks "github.com/JakeFAU/datapull/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/datapull/internal/publisher/pubsub"
	"github.com/JakeFAU/datapull/internal/review"
	"github.com/JakeFAU/datapull/internal/scheduler"
	"github.com/JakeFAU/datapull/internal/snapshot"
	gcsstorage "github.com/JakeFAU/datapull/internal/storage/gcs"
	localstorage "github.com/JakeFAU/datapull/internal/storage/local"
	pgstore "github.com/JakeFAU/datapull/internal/storage/postgres"
)

// Snapshot object names under the data directory.
const (
	ReviewsSnapshot = "reviews.json"
	ChunksSnapshot  = "chunks.json"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	base   *zap.Logger
	logger *zap.Logger
	clock  *system.Clock

	Hub          *progress.Hub
	Feed         *progresssinks.Broadcaster
	Reviews      *review.Store
	Chunks       *chunkstore.Store
	Orchestrator *orchestrator.Orchestrator
	Uploads      *ingest.Service
	Remote       *ingest.Client
	Ops          oplog.Log

	registry  *prometheus.Registry
	gcs       *storage.Client
	opsStore  *pgstore.OperationStore
	publisher crawler.Publisher
}

// Options overrides infrastructure for tests.
type Options struct {
	// Fetcher replaces the colly fetcher.
	Fetcher crawler.Fetcher
	// HTTPClient is used by the ingest client.
	HTTPClient *http.Client
	// Publisher replaces the Pub/Sub publisher.
	Publisher crawler.Publisher
}

// Build creates the application's dependencies. logger must not be teed;
// Build tees it into the event feed for every component it creates.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{
		cfg:      cfg,
		base:     logger,
		clock:    system.New(),
		registry: prometheus.NewRegistry(),
	}

	fail := func(err error) (*App, error) {
		_ = a.Close(ctx) //nolint:errcheck // reporting the build error instead
		return nil, err
	}

	if err := a.setupProgress(ctx, opts.Publisher); err != nil {
		return fail(err)
	}
	a.logger = logging.Tee(logger, a.Hub)
	a.logger.Debug("building application dependencies")

	if err := a.setupStores(ctx); err != nil {
		return fail(err)
	}
	archive, err := a.setupArchive(ctx)
	if err != nil {
		return fail(err)
	}
	if err := a.setupOpLog(ctx); err != nil {
		return fail(err)
	}
	if err := a.setupUploads(opts.HTTPClient); err != nil {
		return fail(err)
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Crawler.UserAgent,
			Timeout:       cfg.Crawler.Timeout(),
			MaxRedirects:  cfg.Crawler.MaxRedirects,
			MaxBodyBytes:  cfg.Crawler.MaxBodyBytes,
			RespectRobots: cfg.Crawler.RespectRobots,
			RobotsTimeout: cfg.Crawler.RobotsTimeout(),
		}, a.logger)
		a.logger.Debug("using colly fetcher", zap.String("user_agent", cfg.Crawler.UserAgent))
	}
	a.Orchestrator = orchestrator.New(orchestrator.Config{
		Scheduler: scheduler.Config{
			Concurrency:   cfg.Crawler.Concurrency,
			Interval:      cfg.Crawler.Interval(),
			ProgressEvery: cfg.Crawler.ProgressEvery,
		},
		MinContentChars: cfg.Chunker.MinChars,
		ArchivePrefix:   cfg.Storage.Prefix,
	}, orchestrator.Deps{
		Fetcher: fetcher,
		Clock:   a.clock,
		Reviews: a.Reviews,
		Archive: archive,
		Hasher:  sha256.New(),
		Events:  a.Hub,
		Logger:  a.logger,
	})
	return a, nil
}

// Logger returns the teed application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the app was built with.
func (a *App) Config() config.Config {
	return a.cfg
}

// Load restores the review and chunk stores from their snapshots.
func (a *App) Load(ctx context.Context) error {
	if err := a.Chunks.Load(ctx); err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	if err := a.Reviews.Load(ctx); err != nil {
		return fmt.Errorf("load reviews: %w", err)
	}
	return nil
}

func (a *App) setupProgress(ctx context.Context, publisher crawler.Publisher) error {
	a.Feed = progresssinks.NewBroadcaster()
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.base.Named("events_log")),
		promSink,
		a.Feed,
	}

	if publisher == nil && a.cfg.PubSub.TopicName != "" {
		pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		publisher = pub
		a.base.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}
	if publisher != nil {
		a.publisher = publisher
		sinkList = append(sinkList, progresssinks.NewPubSubSink(publisher))
	}

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Events.BufferSize,
		MaxBatchEvents: a.cfg.Events.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Events.MaxBatchWait(),
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.base,
	}
	a.Hub = progress.NewHub(hubCfg, sinkList...)
	a.base.Debug("event hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return nil
}

func (a *App) gcsClient(ctx context.Context) (*storage.Client, error) {
	if a.gcs != nil {
		return a.gcs, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	a.gcs = client
	return client, nil
}

func (a *App) setupStores(ctx context.Context) error {
	var blobs crawler.BlobStore
	switch a.cfg.Storage.SnapshotBackend {
	case config.BackendGCS:
		client, err := a.gcsClient(ctx)
		if err != nil {
			return err
		}
		blobs, err = gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Storage.Bucket,
			Prefix: a.cfg.Storage.DataDir,
		})
		if err != nil {
			return fmt.Errorf("gcs snapshot store init failed: %w", err)
		}
		a.logger.Debug("snapshots in GCS", zap.String("bucket", a.cfg.Storage.Bucket))
	default:
		local, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.DataDir})
		if err != nil {
			return fmt.Errorf("local snapshot store init failed: %w", err)
		}
		blobs = local
		a.logger.Debug("snapshots on disk", zap.String("path", a.cfg.Storage.DataDir))
	}

	splitter, err := chunker.New(a.cfg.Chunker.Bounds())
	if err != nil {
		return err
	}

	flush := snapshot.FlusherConfig{
		Interval: a.cfg.Storage.FlushInterval(),
		Sync:     a.cfg.Storage.SyncWrites,
	}
	ids := uuid.New()
	a.Chunks = chunkstore.New(chunkstore.Config{
		Clock:    a.clock,
		IDs:      ids,
		Logger:   a.logger,
		Snapshot: snapshot.NewFile(blobs, ChunksSnapshot),
		Flush:    flush,
	})
	a.Reviews = review.New(review.Config{
		Clock:    a.clock,
		IDs:      ids,
		Chunks:   a.Chunks,
		Chunk:    splitter.Document,
		Logger:   a.logger,
		Snapshot: snapshot.NewFile(blobs, ReviewsSnapshot),
		Flush:    flush,
	})
	return nil
}

func (a *App) setupArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.ArchiveBackend {
	case config.BackendGCS:
		client, err := a.gcsClient(ctx)
		if err != nil {
			return nil, err
		}
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.logger.Info("archiving raw payloads to GCS", zap.String("bucket", a.cfg.Storage.Bucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.ArchiveDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving raw payloads to disk", zap.String("path", a.cfg.Storage.ArchiveDir))
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) setupOpLog(ctx context.Context) error {
	if a.cfg.OpLog.Backend == config.BackendPostgres {
		store, err := pgstore.NewOperationStore(ctx, pgstore.OperationStoreConfig{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.OpLog.Table,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("operation store init failed: %w", err)
		}
		a.opsStore = store
		a.Ops = store
		a.logger.Debug("operation log in postgres", zap.String("table", a.cfg.OpLog.Table))
		return nil
	}
	fileLog, err := oplog.NewFileLog(a.cfg.OpLog.Dir, a.logger)
	if err != nil {
		return fmt.Errorf("operation log init failed: %w", err)
	}
	a.Ops = fileLog
	return nil
}

func (a *App) setupUploads(httpClient *http.Client) error {
	client, err := ingest.NewClient(ingest.ClientConfig{
		BaseURL:        a.cfg.Ingest.BaseURL,
		Token:          a.cfg.Ingest.Token,
		Timeout:        a.cfg.Ingest.Timeout(),
		MaxAttempts:    a.cfg.Ingest.MaxAttempts,
		InitialBackoff: a.cfg.Ingest.InitialBackoff(),
	}, httpClient, a.logger)
	if err != nil {
		return fmt.Errorf("ingest client init failed: %w", err)
	}
	a.Remote = client
	pipeline := ingest.NewPipeline(client, a.clock, ingest.PipelineConfig{
		BatchSize:      a.cfg.Ingest.BatchSize,
		CrawlerVersion: a.cfg.Ingest.CrawlerVersion,
	}, a.logger)
	a.Uploads = ingest.NewService(ingest.ServiceConfig{
		Store:          a.Chunks,
		Pipeline:       pipeline,
		Ops:            a.Ops,
		IDs:            uuid.New(),
		Clock:          a.clock,
		Events:         a.Hub,
		CrawlerVersion: a.cfg.Ingest.CrawlerVersion,
		Logger:         a.logger,
	})
	return nil
}

// Handler builds the HTTP surface. launch runs background crawls.
func (a *App) Handler(launch func(task func(ctx context.Context))) http.Handler {
	return api.NewServer(api.Options{
		Crawler:    a.Orchestrator,
		Sources:    a.cfg,
		Feed:       a.Feed,
		Operations: a.Ops,
		Gatherer:   prometheus.Gatherers{prometheus.DefaultGatherer, a.registry},
		Launch:     launch,
		APIKey:     a.cfg.Server.APIKey,
		Logger:     a.logger,
	}).Handler()
}

// Run serves HTTP and emits heartbeats until ctx is canceled or a signal
// arrives. The HTTP server, heartbeat and background crawls share one group.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	launch := func(task func(context.Context)) {
		g.Go(func() error {
			task(gctx)
			return nil
		})
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(launch),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return progress.RunHeartbeat(gctx, a.Hub, a.cfg.Events.Heartbeat(), a.clock.Now, a.clock.Uptime)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		a.Orchestrator.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// Close flushes the stores and shuts down infrastructure.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Reviews != nil {
		if err := a.Reviews.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close reviews: %w", err))
		}
	}
	if a.Chunks != nil {
		if err := a.Chunks.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close chunks: %w", err))
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.base.Sync(); err != nil {
		a.base.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil {
			a.base.Warn("event hub close failed", zap.Error(err))
		}
	} else if c, ok := a.publisher.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			a.base.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.opsStore != nil {
		a.opsStore.Close()
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.base.Warn("gcs client close failed", zap.Error(err))
		}
	}
}
