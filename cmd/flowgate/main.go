package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"github.com/vantori/flowgate/internal/actions"
	"github.com/vantori/flowgate/internal/connector"
	"github.com/vantori/flowgate/internal/engine"
	"github.com/vantori/flowgate/internal/logging"
	"github.com/vantori/flowgate/internal/ratelimit"
	"github.com/vantori/flowgate/internal/scheduler"
	"github.com/vantori/flowgate/internal/service"
	"github.com/vantori/flowgate/internal/settings"
	"github.com/vantori/flowgate/internal/store"
	"github.com/vantori/flowgate/internal/validation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flowgate:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	validator, err := validation.NewDefinitionValidator()
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		limiter = ratelimit.NewRedisLimiter(client, logger)
		logger.Info("rate limiting enabled", "redis_addr", cfg.RedisAddr)
	}

	adapter := connector.NewAdapter(st, buildPublishers(cfg), logger)
	registry := actions.NewRegistry(adapter, logger)
	src := settings.NewStaticSource(nil)
	pool := engine.NewWorkerPool(cfg.PoolSize)
	orch := engine.NewOrchestrator(st, validator, registry, src, pool, logger)
	svc := service.New(st, validator, orch, limiter, src, logger)

	sched := scheduler.NewScheduler(st, orch, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newAPIHandler(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("flowgate engine started",
			"listen_addr", cfg.ListenAddr, "db_path", cfg.DBPath,
			"pool_size", cfg.PoolSize, "mock_mode", cfg.MockMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", "error", err)
	}
	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler stop failed", "error", err)
	}
	pool.Shutdown()
	return nil
}

func buildPublishers(cfg Config) []connector.Publisher {
	publishers := []connector.Publisher{connector.NewWebhookPublisher()}
	if cfg.MockMode {
		publishers = append(publishers,
			connector.NewMockPublisher("gbp"),
			connector.NewMockPublisher("meta"),
			connector.NewMockPublisher("linkedin"),
		)
		return publishers
	}
	if cfg.GBPBaseURL != "" {
		publishers = append(publishers, connector.NewHTTPPublisher("gbp", cfg.GBPBaseURL, cfg.GBPToken))
	}
	if cfg.MetaBaseURL != "" {
		publishers = append(publishers, connector.NewHTTPPublisher("meta", cfg.MetaBaseURL, cfg.MetaToken))
	}
	if cfg.LinkedInBaseURL != "" {
		publishers = append(publishers, connector.NewHTTPPublisher("linkedin", cfg.LinkedInBaseURL, cfg.LinkedInToken))
	}
	return publishers
}

func newLogger(cfg Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var inner slog.Handler
	if cfg.LogFormat == "json" {
		inner = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		inner = tint.NewHandler(os.Stderr, &tint.Options{Level: level})
	}
	return slog.New(logging.NewCorrelationHandler(inner))
}
