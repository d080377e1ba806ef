// Package main is the entrypoint for the RingSight API server.
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

	"golang.org/x/sync/errgroup"

	"github.com/ringsight/ringsight/internal/api"
	"github.com/ringsight/ringsight/internal/api/handler"
	mw "github.com/ringsight/ringsight/internal/api/middleware"
	"github.com/ringsight/ringsight/internal/api/response"
	"github.com/ringsight/ringsight/internal/cache"
	"github.com/ringsight/ringsight/internal/config"
	"github.com/ringsight/ringsight/internal/detect"
	"github.com/ringsight/ringsight/internal/job"
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
	slog.Info("config loaded", "env", cfg.Server.Env,
		"preset", cfg.Detection.Preset, "detection_timeout", cfg.Detection.Timeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Optional redis mirror; the in-memory store stays the source of truth
	var redisCache cache.Cache
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		redisCache = rc
		slog.Info("redis connected")
	}

	// 3. Detection engine
	engine := detect.NewEngine(detectionConfig(cfg.Detection))

	// 4. Orchestration core
	hub := job.NewBroadcaster()
	store := job.NewStore(hub)
	runner := job.NewRunner(store, engine, cfg.Detection.Timeout, redisCache)
	sweeper := job.NewSweeper(store, cfg.Jobs.SweepInterval, cfg.Jobs.Retention)

	// 5. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMin),

		HealthHandler: healthHandler(redisCache),
		DetectHandler: handler.NewDetectHandler(runner, cfg.Jobs.MaxUploadBytes),
		EventsHandler: handler.NewEventsHandler(store),
		ResultHandler: handler.NewResultHandler(store),
	}
	router := api.NewRouter(deps)

	// 6. Start HTTP server and retention sweep
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the events endpoint holds streams open for the
		// lifetime of a job.
		IdleTimeout: 60 * time.Second,
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
		if err := sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("sweeper error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

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

// detectionConfig maps the env config onto engine thresholds, starting from
// the selected preset.
func detectionConfig(dc config.DetectionConfig) detect.Config {
	var cfg detect.Config
	switch dc.Preset {
	case "aggressive":
		cfg = detect.AggressiveConfig()
	case "conservative":
		cfg = detect.ConservativeConfig()
	default:
		cfg = detect.DefaultConfig()
	}
	if dc.MinSuspicionScore > 0 {
		cfg.MinSuspicionScore = dc.MinSuspicionScore
	}
	if dc.SmurfingThreshold > 0 {
		cfg.SmurfingThreshold = dc.SmurfingThreshold
	}
	return cfg
}

// healthHandler reports liveness; cache connectivity is reported but only
// degrades the response, the core runs without it.
func healthHandler(c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"cache": "disabled",
		}
		if c != nil {
			checks["cache"] = "ok"
			if err := c.Ping(r.Context()); err != nil {
				checks["cache"] = "degraded"
			}
		}

		if checks["cache"] == "degraded" {
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
