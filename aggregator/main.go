// Aggregator pulls articles from the configured news providers into the
// local store.
//
// Usage:
//
//	aggregator run               # one pass, stats as JSON on stdout
//	aggregator schedule          # run now and then every AGGREGATOR_INTERVAL
//	aggregator migrate           # apply schema migrations
//	aggregator seed [--file f]   # upsert sources and categories
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/DeafMist/news-radar/backend/internal/aggregator"
	"github.com/DeafMist/news-radar/backend/internal/app"
	"github.com/DeafMist/news-radar/backend/internal/config"
	"github.com/DeafMist/news-radar/backend/internal/logger"
	"github.com/DeafMist/news-radar/backend/internal/seed"
)

func main() {
	_ = godotenv.Load()

	log := logger.New("aggregator")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newRootCmd(log).ExecuteContext(ctx); err != nil {
		log.Error("command failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func newRootCmd(log *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "aggregator",
		Short:         "Fetch, deduplicate and store news articles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(runCmd(log))
	root.AddCommand(scheduleCmd(log))
	root.AddCommand(migrateCmd(log))
	root.AddCommand(seedCmd(log))
	return root
}

func runCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one aggregation pass and print its stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAggregator()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			p, err := app.Open(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer p.Close()

			stats, err := runOnce(cmd.Context(), p.Orchestrator, cfg.RunTimeout)
			if perr := printStats(cmd.OutOrStdout(), stats); perr != nil {
				return perr
			}
			return err
		},
	}
}

func scheduleCmd(log *slog.Logger) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run aggregation now and then on a fixed interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAggregator()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if interval <= 0 {
				interval = cfg.Interval
			}

			ctx := cmd.Context()
			p, err := app.Open(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer p.Close()

			log.Info("scheduler running", slog.Duration("interval", interval))
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				if _, err := runOnce(ctx, p.Orchestrator, cfg.RunTimeout); err != nil && ctx.Err() == nil {
					log.Warn("aggregation run failed (will retry on next interval)", slog.Any("err", err))
				}
				select {
				case <-ctx.Done():
					log.Info("shutdown signal received")
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "override AGGREGATOR_INTERVAL")
	return cmd
}

func migrateCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAggregator()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := app.OpenStore(cmd.Context(), cfg.DatabasePath, log)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := db.AppliedVersions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at %d migrations\n", len(applied))
			return nil
		},
	}
}

func seedCmd(log *slog.Logger) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert news sources and categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAggregator()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			doc, err := loadSeed(file)
			if err != nil {
				return err
			}

			db, err := app.OpenStore(cmd.Context(), cfg.DatabasePath, log)
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := seed.Apply(cmd.Context(), db, doc)
			if err != nil {
				return fmt.Errorf("apply seed: %w", err)
			}
			log.Info("seed applied", slog.Int("sources", res.Sources), slog.Int("categories", res.Categories))
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d sources, %d categories\n", res.Sources, res.Categories)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML seed document (defaults to the embedded one)")
	return cmd
}

func loadSeed(file string) (seed.Document, error) {
	if file == "" {
		return seed.Default()
	}
	return seed.LoadFile(file)
}

// runOnce bounds one run by timeout.
func runOnce(ctx context.Context, o *aggregator.Orchestrator, timeout time.Duration) (aggregator.Stats, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return o.Run(runCtx)
}

func printStats(w io.Writer, stats aggregator.Stats) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
