package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arenabot/internal/config"
	"arenabot/internal/db"
	"arenabot/internal/ledger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, 4)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("migrate failed", "err", err)
		os.Exit(1)
	}

	store := ledger.NewPostgres(pool, logger)
	if cfg.RunOnce {
		if err := runPass(ctx, store, cfg.IdempotencyRetention, logger); err != nil {
			logger.Error("worker pass failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.Every)
	defer ticker.Stop()

	logger.Info("worker started", "every", cfg.Every.String(), "idempotency_retention", cfg.IdempotencyRetention.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := runPass(ctx, store, cfg.IdempotencyRetention, logger); err != nil {
				logger.Error("worker pass failed", "err", err)
				continue
			}
		}
	}
}

func runPass(ctx context.Context, store ledger.Store, retention time.Duration, logger *slog.Logger) error {
	items, err := store.OpenFailures(ctx, 0)
	if err != nil {
		return err
	}
	count, amount := ledger.Summary(items)
	if count > 0 {
		logger.Warn("open reconciliation items", "count", count, "amount", amount)
	}

	pruned, err := store.PruneIdempotency(ctx, retention)
	if err != nil {
		return err
	}
	logger.Info("worker pass complete", "open_items", count, "open_amount", amount, "pruned_keys", pruned)
	return nil
}
