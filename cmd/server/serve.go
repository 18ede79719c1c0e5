package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/unwatchhq/unwatch/internal/api"
	"github.com/unwatchhq/unwatch/internal/blocks"
	"github.com/unwatchhq/unwatch/internal/changefeed"
	"github.com/unwatchhq/unwatch/internal/db"
	"github.com/unwatchhq/unwatch/internal/live"
	"github.com/unwatchhq/unwatch/internal/logger"
	"github.com/unwatchhq/unwatch/internal/ratelimit"
	"github.com/unwatchhq/unwatch/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func runServer(ctx context.Context) error {
	// Start pprof debug server if enabled (for memory/CPU profiling)
	if os.Getenv("ENABLE_PPROF") == "true" {
		go startPprofServer()
	}

	// Configured via OTEL_SERVICE_NAME, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_HEADERS
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		logger.Warn("failed to configure OpenTelemetry", "error", err)
	} else {
		defer otelShutdown()
	}

	config, err := loadConfig(os.Getenv)
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	// Migrations are applied separately with `unwatch migrate up`.
	database, err := db.ConnectWithRetry(ctx, config.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer database.Close()

	// The hub outlives request contexts; it stops when the server does.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	feed, err := changefeed.New(hubCtx, changefeed.Config{
		Kind:        config.ChangeFeed,
		RedisURL:    config.RedisURL,
		DatabaseURL: config.DatabaseURL,
		DB:          database.Conn(),
	})
	if err != nil {
		logger.Fatal("failed to create change feed", "error", err, "kind", config.ChangeFeed)
	}
	defer feed.Close()

	hub := live.NewHub(feed)
	if err := hub.Start(hubCtx); err != nil {
		logger.Fatal("failed to start change listener", "error", err)
	}
	logger.Info("change feed started", "kind", config.ChangeFeed)

	catalog := blocks.DefaultCatalog()
	if config.PresetsFile != "" {
		catalog, err = blocks.LoadCatalog(config.PresetsFile)
		if err != nil {
			logger.Fatal("failed to load presets", "error", err, "path", config.PresetsFile)
		}
		if err := catalog.Watch(hubCtx, config.PresetsFile); err != nil {
			logger.Warn("presets will not hot-reload", "error", err, "path", config.PresetsFile)
		}
	}

	var store *storage.S3Storage
	if config.S3Config.Enabled() {
		store, err = storage.NewS3Storage(config.S3Config)
		if err != nil {
			logger.Fatal("failed to initialize storage", "error", err)
		}
		logger.Info("export storage configured", "bucket", config.S3Config.BucketName)
	} else {
		logger.Info("export storage disabled, exports are served inline")
	}

	authLimiter, apiLimiter, stopLimiters, err := newRateLimiters(config)
	if err != nil {
		logger.Fatal("failed to create rate limiters", "error", err)
	}
	defer stopLimiters()

	server := api.NewServer(api.Deps{
		DB:               database,
		Hub:              hub,
		Catalog:          catalog,
		Storage:          store,
		AuthLimiter:      authLimiter,
		APILimiter:       apiLimiter,
		AllowedOrigins:   config.AllowedOrigins,
		TrustedIPHeaders: config.TrustedIPHeaders,
		ExportURLExpiry:  config.ExportURLExpiry,
		Version:          version,
	})

	// Traces every incoming HTTP request
	handler := otelhttp.NewHandler(server.SetupRoutes(), "unwatch-backend")

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", config.Port, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown does not wait for hijacked websocket connections; stopping
	// the hub ends their subscriptions.
	stopHub()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// newRateLimiters builds the per-IP auth limiter and the per-user API
// limiter. With REDIS_URL set the limits are shared across instances.
func newRateLimiters(config Config) (authLimiter, apiLimiter ratelimit.RateLimiter, stop func(), err error) {
	if config.RedisURL != "" {
		opts, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		authLimiter = ratelimit.NewRedisRateLimiter(client, "unwatch:rl:auth",
			redisLimitPerMinute(config.AuthRateLimitRPS, config.AuthRateLimitBurst), time.Minute)
		apiLimiter = ratelimit.NewRedisRateLimiter(client, "unwatch:rl:api",
			redisLimitPerMinute(config.APIRateLimitRPS, config.APIRateLimitBurst), time.Minute)
		logger.Info("rate limits shared through redis")
		return authLimiter, apiLimiter, func() { client.Close() }, nil
	}

	authMem := ratelimit.NewInMemoryRateLimiter(config.AuthRateLimitRPS, config.AuthRateLimitBurst)
	apiMem := ratelimit.NewInMemoryRateLimiter(config.APIRateLimitRPS, config.APIRateLimitBurst)
	return authMem, apiMem, func() {
		authMem.Stop()
		apiMem.Stop()
	}, nil
}

// startPprofServer serves pprof on localhost:6060 only.
func startPprofServer() {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	addr := "127.0.0.1:6060"
	logger.Info("pprof debug server starting", "addr", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("pprof server failed", "error", err)
	}
}
