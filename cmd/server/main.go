// Package main is the entrypoint for the ropasuggest API server and worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/ropasuggest/internal/ai/factory"
	"github.com/kiranshivaraju/ropasuggest/internal/api"
	"github.com/kiranshivaraju/ropasuggest/internal/api/handler"
	mw "github.com/kiranshivaraju/ropasuggest/internal/api/middleware"
	"github.com/kiranshivaraju/ropasuggest/internal/api/response"
	"github.com/kiranshivaraju/ropasuggest/internal/cache"
	"github.com/kiranshivaraju/ropasuggest/internal/config"
	"github.com/kiranshivaraju/ropasuggest/internal/fieldmeta"
	"github.com/kiranshivaraju/ropasuggest/internal/queue"
	"github.com/kiranshivaraju/ropasuggest/internal/ropa"
	"github.com/kiranshivaraju/ropasuggest/internal/store"
	"github.com/kiranshivaraju/ropasuggest/internal/suggestion"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "server",
		Short:         "AI field suggestion service for ROPA records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newWorkerCmd(), newMigrateCmd(), newKeysCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with an in-process job dispatcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume suggestion jobs from the Redis queue without serving HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context())
		},
	}
}

// app holds the long-lived connections shared by serve and worker.
type app struct {
	cfg   *config.Config
	pool  *pgxpool.Pool
	store *store.PostgresStore
	cache *cache.RedisCache
	queue queue.Queue
}

func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// setup loads config, connects to Postgres and Redis, applies migrations
// and selects the queue backend.
func setup(ctx context.Context) (*app, error) {
	// 1. Load config: fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"ai_provider", cfg.AI.Provider,
		"queue_backend", cfg.Queue.Backend,
		"env", cfg.Server.Env,
	)

	a := &app{cfg: cfg}

	// 2. Connect to database
	a.pool, err = store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		a.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")
	a.store = store.NewPostgresStore(a.pool)

	// 4. Create Redis cache
	a.cache, err = cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := a.cache.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Job queue
	a.queue = newQueue(cfg.Queue, a.cache)
	return a, nil
}

func newQueue(cfg config.QueueConfig, c *cache.RedisCache) queue.Queue {
	if cfg.Backend == "redis" {
		return queue.NewRedisQueue(c.Client(), cfg.Name)
	}
	return queue.NewMemoryQueue(cfg.Size)
}

// newDispatcher wires the provider, field metadata and worker around a.queue.
func (a *app) newDispatcher() (*suggestion.Dispatcher, error) {
	provider, err := factory.NewProvider(a.cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", provider.Name())

	fields, err := fieldmeta.Default()
	if err != nil {
		return nil, fmt.Errorf("load field metadata: %w", err)
	}

	worker := suggestion.NewWorker(a.store, provider, fields, a.cache, a.cfg.AI.InferenceTimeout)
	return suggestion.NewDispatcher(a.queue, worker, a.cfg.Worker), nil
}

func runServe(ctx context.Context) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return err
	}

	entities := ropa.NewHTTPClient(cfg.ROPA.BaseURL, cfg.ROPA.APIToken, cfg.ROPA.Timeout)
	svc := suggestion.NewService(a.store, ropa.NewBuilder(entities, entities), a.queue, a.cache)

	// Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(a.store),
		RateLimit: mw.NewRateLimit(a.cache, cfg.Server.RateLimitPerMinute),

		HealthHandler:      healthHandler(a.store, a.cache),
		SubmitHandler:      handler.NewSubmitHandler(svc),
		ListJobsHandler:    handler.NewListJobsHandler(svc),
		GetJobHandler:      handler.NewGetJobHandler(svc),
		JobStatusHandler:   handler.NewJobStatusHandler(svc),
		CostSummaryHandler: handler.NewCostSummaryHandler(svc),
		ReplayHandler:      handler.NewReplayHandler(svc),
		CreateKeyHandler:   handler.NewCreateKeyHandler(a.store),
		ListKeysHandler:    handler.NewListKeysHandler(a.store),
		RevokeKeyHandler:   handler.NewRevokeKeyHandler(a.store),
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	// Requeue waits on a full queue, so it runs alongside the consumers.
	if cfg.Queue.Backend == "memory" {
		g.Go(func() error {
			n, err := suggestion.Requeue(gctx, a.store, a.queue)
			if err != nil {
				slog.Warn("requeue open jobs incomplete", "requeued", n, "error", err)
			} else if n > 0 {
				slog.Info("requeued open jobs", "count", n)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

func runWorker(ctx context.Context) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Queue.Backend != "redis" {
		return fmt.Errorf("worker needs QUEUE_BACKEND=redis, got %q", a.cfg.Queue.Backend)
	}

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return err
	}

	slog.Info("worker started", "concurrency", a.cfg.Worker.Concurrency)
	if err := dispatcher.Run(ctx); err != nil {
		return err
	}
	slog.Info("worker stopped")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
