// Package main is the entrypoint for the PALMS job-orchestration API server.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/palmslabs/palms/internal/api"
	"github.com/palmslabs/palms/internal/api/handler"
	mw "github.com/palmslabs/palms/internal/api/middleware"
	"github.com/palmslabs/palms/internal/api/response"
	"github.com/palmslabs/palms/internal/cache"
	"github.com/palmslabs/palms/internal/config"
	"github.com/palmslabs/palms/internal/metrics"
	"github.com/palmslabs/palms/internal/pipeline"
	"github.com/palmslabs/palms/internal/store"
	"github.com/palmslabs/palms/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "worker_base_url", cfg.Worker.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create worker client
	workerClient := worker.NewHTTPClient(cfg.Worker.BaseURL, cfg.Worker.Timeout)

	// 6. Create store and metrics
	pgStore := store.NewPostgresStore(pool)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// 7. Assemble the pipeline service
	svc := pipeline.NewService(pgStore, redisCache, workerClient, m, pipeline.Options{
		WorkerTimeout: cfg.Worker.Timeout,
		BulkBatchSize: cfg.Pipeline.BulkBatchSize,
		BulkTxTimeout: cfg.Pipeline.BulkTxTimeout,
	})

	if cfg.Pipeline.StaleJobSweepInterval > 0 {
		go svc.RunStaleJobSweep(ctx, cfg.Pipeline.StaleJobSweepInterval, cfg.Pipeline.StaleJobAge)
		slog.Info("stale job sweep enabled",
			"interval", cfg.Pipeline.StaleJobSweepInterval, "age", cfg.Pipeline.StaleJobAge)
	}

	// 8. Build router with dependencies
	rateLimit := mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin)

	deps := api.Dependencies{
		RateLimit: rateLimit,

		HealthHandler:  healthHandler(pgStore, redisCache),
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),

		StartTaggingHandler:  handler.NewStartTaggingHandler(svc),
		TaggingStatusHandler: handler.NewTaggingStatusHandler(svc),
		TaggingResultHandler: handler.NewTaggingResultHandler(svc),

		StartTranslationHandler:    handler.NewStartTranslationHandler(svc),
		TranslationCallbackHandler: handler.NewTranslationCallbackHandler(svc),

		UploadReplicationTreeHandler: handler.NewUploadReplicationTreeHandler(svc),
		ExtendHandler:                handler.NewExtendHandler(svc),

		GetJobHandler: handler.NewGetJobHandler(svc),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
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
