package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opengrid/internal/cli"
	"opengrid/internal/config"
	"opengrid/internal/db"
	"opengrid/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var st *store.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		st = store.New(pool, logger)
	} else {
		logger.Warn("no database configured, event archival disabled")
	}

	client := cli.NewClient(cfg.APIBaseURL)

	if cfg.RunOnce {
		runPass(ctx, logger, cfg, client, st)
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.TickEvery)
	defer ticker.Stop()

	logger.Info("worker started",
		"tick_every", cfg.TickEvery.String(),
		"retention", cfg.EventRetention.String(),
		"archive_dir", cfg.ArchiveDir)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			runPass(ctx, logger, cfg, client, st)
		}
	}
}

func runPass(ctx context.Context, logger *slog.Logger, cfg config.WorkerConfig, client *cli.Client, st *store.Store) {
	evictCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	evicted, err := client.EvictInactive(evictCtx, cfg.AdminToken)
	cancel()
	if err != nil {
		logger.Error("eviction sweep failed", "err", err)
	} else if evicted > 0 {
		logger.Info("eviction sweep complete", "evicted", evicted)
	}

	if st == nil {
		return
	}
	writer := store.NewArchiveWriter(cfg.ArchiveDir, "events")
	cutoff := time.Now().Add(-cfg.EventRetention)
	archiveCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	count, err := st.ArchiveExpiredEvents(archiveCtx, cutoff, writer.WriteLine)
	cancel()
	if closeErr := writer.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		logger.Error("event archival failed", "err", err)
		return
	}
	if count > 0 {
		logger.Info("events archived", "count", count, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
}
