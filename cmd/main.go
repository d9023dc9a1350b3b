package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vkuzmenko/holdings_engine/config"
	"github.com/vkuzmenko/holdings_engine/data"
	"github.com/vkuzmenko/holdings_engine/data/projection/redisProjection"
	"github.com/vkuzmenko/holdings_engine/data/repository/postgres"
	"github.com/vkuzmenko/holdings_engine/internal/externalApi/cloudStorageApi/googleDriveApi"
	"github.com/vkuzmenko/holdings_engine/internal/externalApi/instrumentApi"
	"github.com/vkuzmenko/holdings_engine/internal/notifier/telegramNotifier"
	"github.com/vkuzmenko/holdings_engine/internal/reportGenerator/xlsxGenerator"
	"github.com/vkuzmenko/holdings_engine/internal/scheduler"
	"github.com/vkuzmenko/holdings_engine/internal/service/holdingsService"
)

func main() {
	cfg := config.MustLoad()

	setupLogger(cfg)

	slog.Debug("config", slog.Any("cfg", cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgClient := data.NewPostgresClient(cfg)
	defer pgClient.Close()

	pgRepo := postgres.NewPostgres(cfg, pgClient)

	var projectionStore holdingsService.ProjectionStore = pgRepo
	if cfg.Projection.Backend == "redis" {
		redisClient := data.NewRedisClient(cfg)
		defer redisClient.Close()

		projectionStore = redisProjection.New(redisClient)
	}

	instrApiClient := instrumentApi.New(cfg)

	notifier := telegramNotifier.New(cfg)

	reportGenerator := xlsxGenerator.New()

	googleCloudStorage := googleDriveApi.New(ctx, cfg)

	holdingsSrv := holdingsService.
		New(cfg, pgRepo, projectionStore, pgRepo, instrApiClient, notifier).
		WithExport(reportGenerator, googleCloudStorage)

	sched := scheduler.New()
	sched.NewIntervalJob("verify holdings projection", holdingsSrv.VerifyAll, cfg.Jobs.DriftCheckInterval, false)
	sched.NewCrontabJob("cleanup old statements", holdingsSrv.CleanupOldStatements, cfg.Jobs.StatementCleanupCrontab, false)
	sched.Start()
	defer sched.Stop()

	// Waiting interruption signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-interrupt
}

func setupLogger(cfg *config.Config) {
	var logLevel slog.Level

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)
}
