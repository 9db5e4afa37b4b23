// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/api"
	"github.com/JakeFAU/capability-registry/internal/audit"
	"github.com/JakeFAU/capability-registry/internal/clock/system"
	"github.com/JakeFAU/capability-registry/internal/comprehension"
	"github.com/JakeFAU/capability-registry/internal/config"
	"github.com/JakeFAU/capability-registry/internal/dispatcher"
	"github.com/JakeFAU/capability-registry/internal/fetcher"
	collyfetcher "github.com/JakeFAU/capability-registry/internal/fetcher/colly"
	"github.com/JakeFAU/capability-registry/internal/fetcher/firecrawl"
	"github.com/JakeFAU/capability-registry/internal/fetcher/headless"
	"github.com/JakeFAU/capability-registry/internal/fetcher/rendered"
	"github.com/JakeFAU/capability-registry/internal/hash/sha256"
	"github.com/JakeFAU/capability-registry/internal/id/uuid"
	"github.com/JakeFAU/capability-registry/internal/llm"
	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/normalize"
	"github.com/JakeFAU/capability-registry/internal/pipeline"
	pubmemory "github.com/JakeFAU/capability-registry/internal/publisher/memory"
	"github.com/JakeFAU/capability-registry/internal/publisher/pubsub"
	"github.com/JakeFAU/capability-registry/internal/push"
	queuememory "github.com/JakeFAU/capability-registry/internal/queue/memory"
	"github.com/JakeFAU/capability-registry/internal/registry"
	"github.com/JakeFAU/capability-registry/internal/scheduler"
	"github.com/JakeFAU/capability-registry/internal/storage/gcs"
	"github.com/JakeFAU/capability-registry/internal/storage/local"
	"github.com/JakeFAU/capability-registry/internal/storage/memory"
	"github.com/JakeFAU/capability-registry/internal/storage/postgres"
	"github.com/JakeFAU/capability-registry/internal/telemetry"
)

// Option overrides a collaborator NewApp would otherwise build from config.
type Option func(*options)

type options struct {
	generator registry.TextGenerator
	fetcher   registry.Fetcher
	auditor   pipeline.Auditor
	archive   registry.BlobStore
	publisher registry.Publisher
}

// WithTextGenerator replaces the configured LLM provider.
func WithTextGenerator(gen registry.TextGenerator) Option {
	return func(o *options) { o.generator = gen }
}

// WithFetcher replaces the configured crawl strategy.
func WithFetcher(f registry.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithAuditor replaces the robots/schema auditor.
func WithAuditor(a pipeline.Auditor) Option {
	return func(o *options) { o.auditor = a }
}

// WithArchive replaces the configured snapshot archive.
func WithArchive(b registry.BlobStore) Option {
	return func(o *options) { o.archive = b }
}

// WithPublisher replaces the configured event publisher.
func WithPublisher(p registry.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// App holds all the shared, long-lived services for the application.
// It is built once at startup and handed to the serve and ingest commands.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Store      registry.Store
	Queue      *queuememory.Queue
	Service    *pipeline.Service
	Dispatcher *dispatcher.Dispatcher
	Push       *push.Engine
	Scheduler  *scheduler.Scheduler
	Server     *api.Server

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// NewApp creates and initializes the application services from cfg. It fails
// fast if any critical service cannot be initialized and releases whatever it
// already opened.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger = logging.OrNop(logger)
	logger.Info("initializing application services")

	a = &App{Config: cfg, Logger: logger}
	built := a
	defer func() {
		if err != nil {
			built.Close()
		}
	}()

	var tracer trace.TracerProvider
	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("initialize tracing: %w", err)
		}
		a.track("tracing", func() error { return tp.Shutdown(context.Background()) })
		tracer = tp
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store

	archive := o.archive
	if archive == nil {
		if archive, err = a.openArchive(ctx); err != nil {
			return nil, err
		}
	}
	publisher := o.publisher
	if publisher == nil {
		if publisher, err = a.openPublisher(ctx); err != nil {
			return nil, err
		}
	}
	fetch := o.fetcher
	if fetch == nil {
		if fetch, err = a.buildFetcher(); err != nil {
			return nil, err
		}
	}
	gen := o.generator
	if gen == nil {
		if gen, err = llm.New(ctx, cfg.LLM); err != nil {
			return nil, fmt.Errorf("initialize llm: %w", err)
		}
		if c, ok := gen.(io.Closer); ok {
			a.track("llm", c.Close)
		}
	}
	auditor := o.auditor
	if auditor == nil {
		auditor = audit.New(audit.Config{UserAgent: cfg.Crawl.UserAgent, Timeout: cfg.CrawlTimeout()}, logger.Named("audit"))
	}

	clock := system.New()
	ids := uuid.New()
	extractor := comprehension.New(gen, comprehension.Config{
		FastModel: cfg.LLM.FastModel,
		DeepModel: cfg.LLM.DeepModel,
	}, logger.Named("comprehension"))
	builder := normalize.NewBuilder(ids, clock, logger.Named("normalize"))
	committer := pipeline.NewCommitter(store, clock, pipeline.CommitterConfig{
		Archive:       archive,
		Publisher:     publisher,
		ArchivePrefix: cfg.Archive.Prefix,
	}, logger.Named("commit"))

	a.Queue = queuememory.NewQueue(cfg.Pipeline.QueueDepth)
	a.Service, err = pipeline.New(pipeline.Deps{
		Store:     store,
		Queue:     a.Queue,
		Fetcher:   fetch,
		Extractor: extractor,
		Auditor:   auditor,
		Builder:   builder,
		Committer: committer,
		IDs:       ids,
		Clock:     clock,
		Tracer:    tracer,
	}, pipeline.Config{BaseURL: cfg.Pipeline.BaseURL}, logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline: %w", err)
	}
	a.Dispatcher = dispatcher.New(a.Queue, a.Service, cfg.Pipeline.Concurrency, logger.Named("dispatcher"))

	var verifier push.TenantVerifier
	if len(cfg.Push.TenantKeys) > 0 {
		verifier = push.NewStaticTenants(cfg.Push.TenantKeys)
	}
	a.Push, err = push.New(push.Deps{
		Store:     store,
		Extractor: extractor,
		Builder:   builder,
		Committer: committer,
		Hasher:    sha256.New(),
		Auditor:   auditor,
		Verifier:  verifier,
		Locks:     a.Service.Locks(),
	}, push.Config{BaseURL: cfg.Pipeline.BaseURL}, logger.Named("push"))
	if err != nil {
		return nil, fmt.Errorf("initialize push: %w", err)
	}

	if cfg.Scheduler.Enabled {
		a.Scheduler = scheduler.New(store, a.Service, clock, scheduler.Config{
			RefreshInterval: cfg.RefreshInterval(),
			SweepInterval:   cfg.Scheduler.SweepInterval,
			InitialDelay:    cfg.Scheduler.InitialDelay,
		}, logger.Named("scheduler"))
	}

	a.Server = api.NewServer(api.Deps{
		Ingest:     a.Service,
		Registries: store,
		Push:       a.Push,
		RequestIDs: ids,
	}, cfg, logger.Named("api"))

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("archive", cfg.Archive.Driver),
		zap.String("render", cfg.Render.Provider),
		zap.String("llm", cfg.LLM.Provider))
	return a, nil
}

func (a *App) openStore(ctx context.Context) (registry.Store, error) {
	switch a.Config.Storage.Driver {
	case "", "memory":
		a.Logger.Info("using in-memory store; registries are lost on restart")
		return memory.NewStore(), nil
	case "postgres":
		if a.Config.DB.DSN == "" {
			return nil, errors.New("storage driver is 'postgres' but db.dsn is not set")
		}
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:      a.Config.DB.DSN,
			MaxConns: a.Config.DB.MaxConns,
			MinConns: a.Config.DB.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		a.track("postgres", func() error { store.Close(); return nil })
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", a.Config.Storage.Driver)
	}
}

func (a *App) openArchive(ctx context.Context) (registry.BlobStore, error) {
	switch a.Config.Archive.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.NewBlobStore(), nil
	case "local":
		store, err := local.New(local.Config{BaseDir: a.Config.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("initialize archive: %w", err)
		}
		return store, nil
	case "gcs":
		if a.Config.Archive.GCSBucket == "" {
			return nil, errors.New("archive driver is 'gcs' but archive.gcs_bucket is not set")
		}
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.Config.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("initialize archive: %w", err)
		}
		a.track("gcs", store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive driver: %s", a.Config.Archive.Driver)
	}
}

func (a *App) openPublisher(ctx context.Context) (registry.Publisher, error) {
	if a.Config.PubSub.ProjectID == "" {
		return pubmemory.New(), nil
	}
	a.Logger.Info("connecting to pub/sub", zap.String("topic", a.Config.PubSub.TopicName))
	pub, err := pubsub.Open(ctx, a.Config.PubSub.ProjectID, a.Config.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("initialize publisher: %w", err)
	}
	a.track("pubsub", pub.Close)
	return pub, nil
}

// buildFetcher returns the direct fetcher, fronted by the rendering service
// when one is configured.
func (a *App) buildFetcher() (registry.Fetcher, error) {
	cfg := a.Config
	direct := collyfetcher.New(collyfetcher.Config{
		UserAgent:       cfg.Crawl.UserAgent,
		Timeout:         cfg.CrawlTimeout(),
		MaxPages:        cfg.Crawl.MaxPages,
		Concurrency:     cfg.Crawl.Concurrency,
		Delay:           msToDuration(cfg.Crawl.DelayMs),
		MaxContentBytes: cfg.Crawl.MaxContentBytes,
	}, a.Logger.Named("colly"))

	var renderer registry.Renderer
	switch cfg.Render.Provider {
	case "", config.RenderNone:
		return direct, nil
	case config.RenderFirecrawl:
		renderer = firecrawl.New(firecrawl.Config{
			BaseURL:      cfg.Render.BaseURL,
			APIKey:       cfg.Render.APIKey,
			BatchTimeout: secondsToDuration(cfg.Render.BatchTimeoutSeconds),
		}, a.Logger.Named("firecrawl"))
	case config.RenderHeadless:
		r, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Render.MaxParallel,
			UserAgent:         cfg.Crawl.UserAgent,
			NavigationTimeout: secondsToDuration(cfg.Render.NavTimeoutSeconds),
		}, a.Logger.Named("headless"))
		if err != nil {
			return nil, fmt.Errorf("initialize headless renderer: %w", err)
		}
		a.track("headless", func() error { r.Close(); return nil })
		renderer = r
	default:
		return nil, fmt.Errorf("unknown render provider: %s", cfg.Render.Provider)
	}
	primary := rendered.New(renderer, rendered.Config{
		MaxPages:        cfg.Crawl.MaxPages,
		MaxContentBytes: cfg.Crawl.MaxContentBytes,
		Timeout:         cfg.RenderTimeout(),
	}, a.Logger.Named("rendered"))
	return fetcher.NewFallback(primary, direct, a.Logger.Named("fetch")), nil
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func (a *App) track(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Close releases every opened resource in reverse order and flushes the logger.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	if a.Queue != nil {
		a.Queue.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.Logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	// Sync fails on stderr-backed loggers on some platforms; nothing useful to do then.
	_ = a.Logger.Sync()
}
