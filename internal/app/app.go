// Package app wires configuration into the running pipeline shared by the
// aggregator and api binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/DeafMist/news-radar/backend/internal/aggregator"
	"github.com/DeafMist/news-radar/backend/internal/config"
	"github.com/DeafMist/news-radar/backend/internal/dedupe"
	"github.com/DeafMist/news-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/news-radar/backend/internal/events"
	"github.com/DeafMist/news-radar/backend/internal/resolver"
	"github.com/DeafMist/news-radar/backend/internal/sources"
	"github.com/DeafMist/news-radar/backend/internal/storage"
	"github.com/DeafMist/news-radar/backend/internal/writer"
)

// Pipeline holds the live components of one process.
type Pipeline struct {
	DB           *storage.DB
	Search       *elasticsearch.Client // nil when search is disabled
	Orchestrator *aggregator.Orchestrator

	events interface{ Close() error }
}

// OpenStore opens the database and applies pending migrations.
func OpenStore(ctx context.Context, path string, log *slog.Logger) (*storage.DB, error) {
	db, err := storage.Open(path, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// ConnectSearch builds an Elasticsearch client and waits for the cluster to
// answer a ping, retrying with exponential backoff until maxWait elapses.
func ConnectSearch(ctx context.Context, addr, index string, maxWait time.Duration, log *slog.Logger) (*elasticsearch.Client, error) {
	es, err := elasticsearch.New(addr, index, log)
	if err != nil {
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = maxWait

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := es.Ping(pingCtx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.Warn("elasticsearch ping failed, retrying", slog.Any("err", err), slog.Int("attempt", attempt))
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, fmt.Errorf("connect elasticsearch: %w", err)
	}
	return es, nil
}

// Open builds the pipeline described by cfg. Search and events are optional;
// an unreachable search cluster only disables indexing.
func Open(ctx context.Context, cfg *config.Aggregator, log *slog.Logger) (*Pipeline, error) {
	db, err := OpenStore(ctx, cfg.DatabasePath, log)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{DB: db}

	deps := aggregator.Deps{
		Clients:  sources.NewRegistry(cfg.Providers, cfg.ProviderTimeout, log),
		Sources:  db,
		Dedupe:   dedupe.New(dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL), db),
		Resolver: resolver.New(db),
		Writer:   writer.New(db),
		Logger:   log,
	}

	if cfg.SearchEnabled() {
		es, err := ConnectSearch(ctx, cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, 30*time.Second, log)
		switch {
		case err != nil:
			log.Warn("search indexing disabled", slog.Any("err", err))
		default:
			if err := es.EnsureIndex(ctx); err != nil {
				log.Warn("ensure search index", slog.Any("err", err))
			}
			p.Search = es
			deps.Indexer = es
		}
	}

	if cfg.EventsEnabled() {
		pub := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		p.events = pub
		deps.Events = pub
	}

	orch, err := aggregator.New(deps, aggregator.Options{
		Concurrency:      cfg.FetchConcurrency,
		KeywordLimit:     cfg.KeywordLimit,
		KeywordMinLength: cfg.KeywordMinLength,
	})
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	p.Orchestrator = orch

	log.Info("pipeline ready",
		slog.Int("providers", len(deps.Clients.ActiveClients())),
		slog.Bool("search", p.Search != nil),
		slog.Bool("events", p.events != nil),
	)
	return p, nil
}

// Close flushes event writers and closes the database.
func (p *Pipeline) Close() error {
	var errs []error
	if p.events != nil {
		errs = append(errs, p.events.Close())
	}
	if p.DB != nil {
		errs = append(errs, p.DB.Close())
	}
	return errors.Join(errs...)
}
