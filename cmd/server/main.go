package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcoot/coinfall/internal/api"
	"github.com/mcoot/coinfall/internal/api/middleware"
	"github.com/mcoot/coinfall/internal/config"
	"github.com/mcoot/coinfall/internal/factory"
	"github.com/mcoot/coinfall/internal/storage/postgres"
	redisstorage "github.com/mcoot/coinfall/internal/storage/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := factory.New(ctx, factoryConfig(cfg, logger))
	if err != nil {
		logger.Error("failed to create application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Single tick source for every session engine
	go app.Sessions.Run(ctx)

	collectLimiter := middleware.NewUserLimiter(cfg.HTTP.CollectRateLimit, cfg.HTTP.CollectBurst)
	err = app.Sessions.StartJanitor(
		func(time.Time) { app.HubManager.CleanupEmptyHubs() },
		func(now time.Time) { collectLimiter.Prune(now, cfg.Game.IdleAfter) },
	)
	if err != nil {
		logger.Error("failed to start janitor", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := api.NewRouter(api.RouterConfig{
		Logger:         logger,
		Clock:          app.Clock,
		AuthService:    app.AuthService,
		Sessions:       app.Sessions,
		Storage:        app.Storage,
		HubManager:     app.HubManager,
		Metrics:        app.Metrics,
		CollectLimiter: collectLimiter,
	})

	server := api.NewServer(router, api.ServerConfig{
		Addr:            cfg.HTTP.Address,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, logger)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("server started",
		slog.String("addr", server.Addr()),
		slog.String("env", cfg.Env),
		slog.String("storage", cfg.Storage.Type),
		slog.String("cooldown_policy", cfg.Game.CooldownPolicy),
	)

	// Wait for shutdown or error
	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			exitCode = 1
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
			exitCode = 1
		}
	}

	// Settle writes still in flight must reach the store before exit
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		logger.Error("failed to close application", slog.String("error", err.Error()))
		exitCode = 1
	}

	logger.Info("server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func factoryConfig(cfg *config.Config, logger *slog.Logger) factory.Config {
	fc := factory.Config{
		Logger:         logger,
		StorageType:    cfg.Storage.Type,
		BotToken:       cfg.Telegram.BotToken,
		InitDataMaxAge: cfg.Telegram.InitDataMaxAge,
		AuthConfig:     cfg.AuthConfig(),
		SessionConfig:  cfg.SessionConfig(),
	}

	switch cfg.Storage.Type {
	case config.StorageRedis:
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = cfg.Storage.RedisURL
		redisCfg.KeyPrefix = cfg.Storage.RedisKeyPrefix
		fc.RedisConfig = &redisCfg
	case config.StoragePostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.DSN = cfg.Storage.PostgresDSN
		pgCfg.MaxConns = int32(cfg.Storage.PostgresMaxConns)
		pgCfg.Migrate = cfg.Storage.PostgresMigrate
		fc.PostgresConfig = &pgCfg
	}

	if cfg.AMQP.URL != "" {
		fc.AMQP = &factory.AMQPConfig{
			URL:            cfg.AMQP.URL,
			Exchange:       cfg.AMQP.Exchange,
			ConnectRetries: cfg.AMQP.ConnectRetries,
			ConnectDelay:   cfg.AMQP.ConnectDelay,
		}
	}

	return fc
}
