package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/form4watch/signal-engine/internal/app"
	"github.com/form4watch/signal-engine/internal/platform/config"
	"github.com/form4watch/signal-engine/internal/storage"
)

func main() {
	mode := flag.String("mode", "scheduler", "run mode: scheduler, detect or dispatch")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewWithOptions(ctx, cfg.PostgresDSN, storage.PoolOptions{
		MaxConns:          cfg.DBMaxConnections,
		MinConns:          cfg.DBMinConnections,
		MaxConnIdleTime:   cfg.DBMaxConnIdleTime,
		MaxConnLifetime:   cfg.DBMaxConnLifetime,
		HealthCheckPeriod: cfg.DBHealthCheckPeriod,
	}, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	engine, err := app.New(cfg, db, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build engine")
	}

	go func() {
		if err := engine.StartHealthServer(ctx); err != nil {
			logger.Error().Err(err).Msg("ops server stopped")
		}
	}()

	switch *mode {
	case "scheduler":
		if err := engine.RunScheduler(ctx); err != nil {
			logger.Fatal().Err(err).Msg("scheduler failed")
		}
	case "detect":
		engine.RunDetectOnce(ctx)
	case "dispatch":
		engine.RunDispatchOnce(ctx)
	default:
		logger.Fatal().Str("mode", *mode).Msg("unknown mode")
	}

	logger.Info().Msg("shutdown complete")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.AppEnv == "local" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	return logger
}
