package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/DeafMist/news-radar/backend/internal/app"
	"github.com/DeafMist/news-radar/backend/internal/config"
	"github.com/DeafMist/news-radar/backend/internal/logger"
)

// pruner removes search documents older than maxAge. Stored articles are
// never touched.
type pruner interface {
	DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

func main() {
	_ = godotenv.Load()

	log := logger.New("retention")
	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := app.ConnectSearch(ctx, cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, 3*time.Minute, log)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("failed to connect to elasticsearch after retries", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("connected to elasticsearch")

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("retention loop started",
		slog.String("index", cfg.ElasticsearchIndex),
		slog.Duration("interval", cfg.Interval),
		slog.Duration("max_age", cfg.MaxAge),
		slog.Int("batch_size", cfg.BatchSize),
	)

	runOnce(ctx, log, esClient, cfg)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, esClient, cfg)
		}
	}
}

func runOnce(ctx context.Context, log *slog.Logger, p pruner, cfg *config.Retention) int64 {
	pruneCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-cfg.MaxAge)
	deleted, err := p.DeleteOlderThan(pruneCtx, cfg.MaxAge, cfg.BatchSize)
	if err != nil {
		log.Warn("pruning search index failed, next attempt on schedule",
			slog.Any("err", err), slog.Time("cutoff", cutoff))
		return 0
	}

	log.Info("search index pruned", slog.Int64("deleted", deleted), slog.Time("cutoff", cutoff))
	return deleted
}
