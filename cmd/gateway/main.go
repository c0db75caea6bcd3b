package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/vllm-gateway/internal/config"
	"github.com/af-corp/vllm-gateway/internal/gateway"
	"github.com/af-corp/vllm-gateway/internal/ratelimit"
	"github.com/af-corp/vllm-gateway/internal/router"
	"github.com/af-corp/vllm-gateway/internal/telemetry"
)

var version = "dev"

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file; variables already set in the environment win")
	configPath := flag.String("config", "", "path to an optional YAML configuration file (default $"+config.EnvConfigPath+")")
	flag.Parse()

	// Bootstrap logger until the configured level and format are known.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error("failed to load env file", "file", *envFile, "error", err)
		os.Exit(1)
	}
	if *configPath == "" {
		*configPath = os.Getenv(config.EnvConfigPath)
	}

	loader := config.NewLoader(*configPath, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger = newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	registry, err := router.NewRegistry(cfg.Backends)
	if err != nil {
		logger.Error("failed to build backend registry", "error", err)
		os.Exit(1)
	}
	logBackends(logger, registry)
	rt := router.New(registry)

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	health := router.NewHealthTracker(cfg.Routing.CircuitBreaker, func(backend string, state router.CircuitState) {
		logger.Warn("backend circuit state changed", "backend", backend, "state", state.String())
		metrics.SetCircuitState(backend, int(state))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *configPath != "" {
		loader.OnReload(func() {
			next, err := router.NewRegistry(loader.Config().Backends)
			if err != nil {
				logger.Error("failed to rebuild backend registry, keeping previous", "error", err)
				metrics.RecordRegistryReload(false)
				return
			}
			rt.Swap(next)
			metrics.RecordRegistryReload(true)
			logger.Info("backend registry reloaded; server and routing settings apply on restart")
			logBackends(logger, next)
		})
		if err := loader.Watch(ctx); err != nil {
			logger.Warn("failed to start config watcher", "error", err)
		}
	}

	// Connect to Redis
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable (rate limiting disabled)", "error", err)
			rdb.Close()
			rdb = nil
		} else {
			logger.Info("redis connected")
			defer rdb.Close()
		}
	}

	dispatcher := gateway.NewDispatcher(gateway.NewHTTPClient(cfg.Routing), health)
	handler := gateway.NewHandler(rt, dispatcher, metrics, cfg.Routing.MaxLineBytes)
	limiter := ratelimit.NewLimiter(rdb)

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      newRouter(handler, ratelimit.Middleware(limiter, cfg.RateLimit.RequestsPerMinute, metrics), cfg.Telemetry.MetricsPath),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", srv.Addr, "version", version, "models", len(registry.Models()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	// Validated at load time.
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func logBackends(logger *slog.Logger, registry *router.Registry) {
	for _, model := range registry.Models() {
		b, _ := registry.Resolve(model)
		logger.Info("model route", "model", model, "backend", b.BaseURL)
	}
}
