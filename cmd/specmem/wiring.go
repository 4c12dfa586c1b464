package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonhardwick-spec/specmem-sub022/internal/background"
	"github.com/jonhardwick-spec/specmem-sub022/internal/codeindex"
	"github.com/jonhardwick-spec/specmem-sub022/internal/config"
	"github.com/jonhardwick-spec/specmem-sub022/internal/consolidation"
	"github.com/jonhardwick-spec/specmem-sub022/internal/drilldown"
	"github.com/jonhardwick-spec/specmem-sub022/internal/embedclient"
	"github.com/jonhardwick-spec/specmem-sub022/internal/embedqueue"
	"github.com/jonhardwick-spec/specmem-sub022/internal/hotpath"
	"github.com/jonhardwick-spec/specmem-sub022/internal/memstore"
	"github.com/jonhardwick-spec/specmem-sub022/internal/observability"
	"github.com/jonhardwick-spec/specmem-sub022/internal/project"
	"github.com/jonhardwick-spec/specmem-sub022/internal/restoration"
	"github.com/jonhardwick-spec/specmem-sub022/internal/search"
	"github.com/jonhardwick-spec/specmem-sub022/internal/storage"
	"github.com/jonhardwick-spec/specmem-sub022/internal/toolsurface"
)

// drilldownCapacity bounds the in-process camera-roll registry.
const drilldownCapacity = 10000

// engine bundles every wired component for one project, built once per
// process invocation.
type engine struct {
	cfg       *config.Config
	projectCtx *project.Context
	pool      *storage.Pool
	log       *observability.Logger
	metrics   *observability.Metrics

	embedder *embedclient.Client
	queue    *embedqueue.Queue
	store    *memstore.Store
	registry *drilldown.Registry
	search   *search.Engine
	consolidator *consolidation.Engine
	hotpaths *hotpath.Manager
	indexer  *codeindex.Indexer
	surface  *toolsurface.Surface
	scheduler *background.Scheduler
	restorer *restoration.Parser
}

// bootstrap loads configuration, resolves the project schema, opens the
// pool, runs pending migrations, and wires every engine component. callers
// own closing the returned engine's pool.
func bootstrap(ctx context.Context, configPath, projectPath string) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyDefaults()
	if projectPath == "" {
		projectPath = cfg.ProjectPath
	}

	projectCtx, err := project.New(projectPath)
	if err != nil {
		return nil, fmt.Errorf("resolve project: %w", err)
	}

	log := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, cfg.Database.User, cfg.Database.Password)
	pool, err := storage.Open(ctx, storage.Config{
		DSN:             dsn,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, projectCtx.ProjectSchema())
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	schemaMgr := storage.NewSchemaManager(pool, metrics, log)
	if err := schemaMgr.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	socketPath := cfg.Embedding.Socket
	if socketPath == "" {
		socketPath = embedclient.SocketPath(projectCtx.ProjectPath(), cfg.Embedding.RuntimeDir)
	}
	embedder := embedclient.New(embedclient.Config{
		SocketPath:     socketPath,
		TimeoutMin:     cfg.Embedding.TimeoutMin,
		TimeoutMax:     cfg.Embedding.TimeoutMax,
		TimeoutInitial: cfg.Embedding.TimeoutInitial,
		RateLimit:      cfg.Embedding.RateLimit,
	}, log, metrics)

	queue := embedqueue.New(pool, embedqueue.Config{
		ProjectID:   projectCtx.ProjectSchema(),
		Concurrency: cfg.Queue.Concurrency,
	}, log, metrics)

	dimension, hasDim := embedder.Dimension()
	if !hasDim {
		if _, err := embedder.Embed(ctx, "dimension probe"); err != nil {
			log.Warn(ctx, "embedding dimension probe failed; continuing without a known dimension", "error", err.Error())
		}
		dimension, hasDim = embedder.Dimension()
	}
	if hasDim {
		if err := schemaMgr.EnsureDimension(ctx, dimension); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure dimension: %w", err)
		}
	}

	store := memstore.New(pool, queue, dimension, log, metrics)
	registry := drilldown.New(drilldownCapacity)
	searchEngine := search.New(pool, embedder, registry, metrics, log)
	consolidator := consolidation.New(pool, metrics, log)
	hotpaths := hotpath.New(pool, metrics, log, hotpath.Options{
		DecayFactor: cfg.HotPath.DecayFactor,
		PruneFloor:  cfg.HotPath.PruneFloor,
	})
	indexer := codeindex.New(pool, embedder, metrics, log)
	surface := toolsurface.New(pool, store, searchEngine, consolidator, hotpaths, registry, metrics, log)
	restorer := restoration.New(pool, store, embedder, metrics, log)

	scheduler := background.New(background.Config{
		ConsolidateStrategy: consolidation.StrategySimilarity,
		ProjectPaths:        []string{projectCtx.ProjectPath()},
		QueueCleanupAge:     time.Duration(cfg.Queue.CleanupDays) * 24 * time.Hour,
	}, queue, embedder, hotpaths, consolidator, log)

	return &engine{
		cfg:          cfg,
		projectCtx:   projectCtx,
		pool:         pool,
		log:          log,
		metrics:      metrics,
		embedder:     embedder,
		queue:        queue,
		store:        store,
		registry:     registry,
		search:       searchEngine,
		consolidator: consolidator,
		hotpaths:     hotpaths,
		indexer:      indexer,
		surface:      surface,
		scheduler:    scheduler,
		restorer:     restorer,
	}, nil
}

func (e *engine) Close() error {
	return e.pool.Close()
}
