package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/questgen/internal/api"
	"github.com/phrazzld/questgen/internal/chunker"
	"github.com/phrazzld/questgen/internal/config"
	"github.com/phrazzld/questgen/internal/dedup"
	"github.com/phrazzld/questgen/internal/generation"
	"github.com/phrazzld/questgen/internal/orchestrator"
	"github.com/phrazzld/questgen/internal/planner"
	"github.com/phrazzld/questgen/internal/platform/gemini"
	"github.com/phrazzld/questgen/internal/platform/postgres"
	"github.com/phrazzld/questgen/internal/platform/qdrant"
	redisstore "github.com/phrazzld/questgen/internal/platform/redis"
	"github.com/phrazzld/questgen/internal/progress"
	"github.com/phrazzld/questgen/internal/queue"
	"github.com/phrazzld/questgen/internal/retrieval"
	"github.com/phrazzld/questgen/internal/service"
	"github.com/phrazzld/questgen/internal/validator"
	"github.com/phrazzld/questgen/internal/worker"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// redisQueueName names the job queue's keys when redis backs the queue.
	redisQueueName = "generation"
	// requestTimeout bounds every non-streaming API request.
	requestTimeout = 2 * time.Minute
)

// application holds the wired components of a running service.
type application struct {
	config *config.Config
	logger *slog.Logger

	db      *sql.DB
	redis   *goredis.Client
	closers []io.Closer

	orchestrator *orchestrator.Orchestrator
	pool         *worker.Pool
	router       http.Handler
}

// backends are the pluggable infrastructure choices made by configuration.
type backends struct {
	queue   queue.Queue
	vectors retrieval.VectorStore
	cache   retrieval.EmbeddingCache
	fanout  progress.Fanout
	closers []io.Closer
}

// selectBackends builds the queue, vector index, embedding cache and event
// fan-out named by cfg. rdb may be nil when no redis backend is configured.
func selectBackends(cfg *config.Config, db *sql.DB, rdb *goredis.Client, log *slog.Logger) (*backends, error) {
	b := &backends{}
	if cfg.UsesRedis() && rdb == nil {
		return nil, errors.New("redis backend configured without a redis client")
	}

	switch cfg.Queue.Backend {
	case "postgres":
		if db == nil {
			return nil, errors.New("postgres queue requires a database")
		}
		b.queue = postgres.NewQueue(db, log)
	case "redis":
		b.queue = redisstore.NewQueue(rdb, redisQueueName, log)
	case "memory":
		b.queue = queue.NewMemoryQueue()
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}

	switch cfg.Index.Backend {
	case "qdrant":
		store, err := qdrant.New(cfg.Index, cfg.LLM.EmbeddingDimensions, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create vector index: %w", err)
		}
		b.vectors = store
		b.closers = append(b.closers, store)
	case "memory":
		b.vectors = retrieval.NewMemoryVectorStore()
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}

	switch cfg.Index.Cache {
	case "redis":
		b.cache = redisstore.NewEmbeddingCache(rdb, 0)
	default:
		b.cache = retrieval.NewMemoryCache()
	}

	switch cfg.Progress.Fanout {
	case "redis":
		b.fanout = redisstore.NewFanout(rdb, cfg.Progress.SubscriberBuffer, log)
	default:
		b.fanout = progress.NewMemoryHub(cfg.Progress.SubscriberBuffer, log)
	}
	return b, nil
}

// newApplication connects to the configured infrastructure and wires the
// pipeline. On error everything opened so far is closed.
func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger) (app *application, err error) {
	app = &application{config: cfg, logger: log}
	defer func() {
		if err != nil {
			app.cleanup()
			app = nil
		}
	}()

	app.db, err = postgres.Open(ctx, cfg.Database, log)
	if err != nil {
		return app, err
	}
	if cfg.UsesRedis() {
		app.redis, err = redisstore.NewClient(ctx, cfg.Redis)
		if err != nil {
			return app, err
		}
	}

	b, err := selectBackends(cfg, app.db, app.redis, log)
	if err != nil {
		return app, err
	}
	app.closers = append(app.closers, b.closers...)

	llm, err := gemini.New(ctx, cfg.LLM, log)
	if err != nil {
		return app, fmt.Errorf("failed to create LLM client: %w", err)
	}

	stores := postgres.NewStores(app.db, log)
	tx := postgres.NewTxManager(app.db, log)

	embedder := retrieval.NewCachedEmbedder(llm, b.cache, cfg.LLM.EmbeddingModel, generation.DefaultRetryPolicy(), log)
	retriever, err := retrieval.NewService(embedder, b.vectors, stores.Chunks, retrieval.Options{
		SimilarityFloor: cfg.Index.SimilarityFloor,
		TopK:            cfg.Index.TopK,
		Concurrency:     cfg.Index.Concurrency,
	}, log)
	if err != nil {
		return app, err
	}

	events, err := progress.NewBroadcaster(stores.Events, b.fanout, cfg.Progress.HeartbeatInterval, cfg.Progress.SubscriberBuffer, log)
	if err != nil {
		return app, err
	}

	app.orchestrator, err = orchestrator.New(stores, tx, b.queue, events,
		orchestrator.OptionsFromConfig(cfg.Orchestrator, cfg.Queue), log)
	if err != nil {
		return app, err
	}

	plans, err := planner.New(stores.Documents, stores.Chunks, stores.Plans, llm, retriever, events, log)
	if err != nil {
		return app, err
	}

	gate, err := validator.New(llm, validator.Options{
		Threshold:     cfg.Validation.Threshold,
		MaxStemLength: cfg.Validation.MaxStemLength,
	}, log)
	if err != nil {
		return app, err
	}

	dupes := dedup.New(embedder, dedup.Options{
		LexicalThreshold:  cfg.Dedup.LexicalThreshold,
		SemanticThreshold: cfg.Dedup.SemanticThreshold,
		CrossType:         cfg.Dedup.CrossType,
	}, log)

	processor, err := worker.NewProcessor(worker.Deps{
		Stores:    stores,
		Tx:        tx,
		Queue:     b.queue,
		Retriever: retriever,
		Generator: llm,
		Validator: gate,
		Dedup:     dupes,
		Events:    events,
		Plans:     app.orchestrator,
	}, worker.ConfigFromSettings(cfg), log)
	if err != nil {
		return app, err
	}
	app.pool = worker.NewPool(processor, log)

	svc, err := service.NewGenerationService(service.Components{
		Stores:     stores,
		Chunker:    chunker.NewFromConfig(cfg.Chunker, log),
		Indexer:    retriever,
		Planner:    plans,
		Runner:     app.orchestrator,
		Subscriber: events,
	}, log)
	if err != nil {
		return app, err
	}

	app.router = api.NewRouter(api.RouterConfig{
		Service:        svc,
		Logger:         log,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		RequestTimeout: requestTimeout,
		HealthChecks:   app.healthChecks(),
	})
	return app, nil
}

func (app *application) healthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"database": app.db.PingContext,
	}
	if app.redis != nil {
		rdb := app.redis
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

// cleanup releases every connection the application opened.
func (app *application) cleanup() {
	for _, c := range app.closers {
		if err := c.Close(); err != nil {
			app.logger.Error("failed to close resource", "error", err)
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("failed to close redis client", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database connection", "error", err)
		}
	}
}
