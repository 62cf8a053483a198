package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/umar/users-api/internal/config"
	"github.com/umar/users-api/internal/database"
	"github.com/umar/users-api/internal/events"
	"github.com/umar/users-api/internal/handlers"
	"github.com/umar/users-api/internal/middleware"
	redisc "github.com/umar/users-api/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	slog.Info("starting users server", "driver", cfg.Database.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	sqlGateway := database.NewGateway(db, cfg.Database.Driver)
	var gw database.Gateway = sqlGateway
	if cfg.Database.BreakerMaxFailures > 0 {
		gw = database.NewBreakerGateway(sqlGateway, cfg.Database.BreakerMaxFailures, cfg.Database.BreakerTimeout, logger)
	}

	health := map[string]handlers.PingFunc{"database": sqlGateway.Ping}

	// Change events: local hub, optionally fanned out through Redis
	hub := events.NewHub(logger)
	go hub.Run()

	var notifier events.Notifier = hub
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = redisc.InitRedis(ctx, cfg.Redis.URL)
		if err != nil {
			slog.Error("failed to init Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		slog.Info("connected to Redis")

		notifier = redisc.NewPublisher(redisClient, cfg.Redis.Channel)
		go redisc.Subscribe(ctx, redisClient, cfg.Redis.Channel, hub.Broadcast)
		health["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var limiter *middleware.IPRateLimiter
	if cfg.HTTP.RateLimitRPS > 0 {
		limiter = middleware.NewIPRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
		defer limiter.Close()
	}

	router := newRouter(routerDeps{
		users:      handlers.NewUsersHandler(gw, notifier, logger),
		hub:        hub,
		health:     health,
		registry:   registry,
		corsOrigin: cfg.HTTP.CORSOrigin,
		limiter:    limiter,
	})

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	hub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}
