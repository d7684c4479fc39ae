// Package aggregator drives one ingestion run: fetch every active provider,
// then dedupe, resolve and write each article, folding outcomes into Stats.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/news-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/news-radar/backend/internal/events"
	"github.com/DeafMist/news-radar/backend/internal/models"
	"github.com/DeafMist/news-radar/backend/internal/sources"
	"github.com/DeafMist/news-radar/backend/internal/storage"
	"github.com/DeafMist/news-radar/backend/internal/writer"
)

var (
	// ErrRunInProgress is returned when Run is called while a run is active.
	ErrRunInProgress = errors.New("aggregation already running")
	// ErrStorageUnavailable is the only failure that ends a run with an error
	// besides cancellation.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrSourceNotConfigured marks a provider without a matching source row.
	ErrSourceNotConfigured = errors.New("source not configured")
)

const (
	defaultSinkTimeout    = 10 * time.Second
	defaultSinkQueueSize  = 256
	defaultSinkFlushGrace = 5 * time.Second
)

// ClientSource lists the clients to run.
type ClientSource interface {
	ActiveClients() []sources.Client
}

// SourceStore is the read access to reference data plus a liveness check.
type SourceStore interface {
	Ping(ctx context.Context) error
	SourceByAPIIdentifier(ctx context.Context, apiIdentifier string) (models.Source, error)
}

// Deduplicator answers whether a URL is already stored.
type Deduplicator interface {
	Exists(ctx context.Context, url string) (bool, error)
	Remember(url string)
}

// EntityResolver maps raw author and category strings to stored rows.
type EntityResolver interface {
	ResolveAuthor(ctx context.Context, name, email string) (*models.Author, error)
	ResolveCategory(ctx context.Context, label string) (*models.Category, error)
}

// ArticleWriter persists one article atomically.
type ArticleWriter interface {
	Write(ctx context.Context, in models.NormalizedArticle, sourceID int64, author *models.Author, category *models.Category) (models.Article, error)
}

// Indexer receives saved articles for search.
type Indexer interface {
	IndexArticle(ctx context.Context, doc models.ArticleDocument) error
}

// EventSink receives saved and failed articles.
type EventSink interface {
	ArticleIngested(ctx context.Context, runID string, a models.Article) error
	DeadLetter(ctx context.Context, dl events.DeadLetter) error
}

// Deps are the collaborators of an Orchestrator. Indexer and Events are
// optional.
type Deps struct {
	Clients  ClientSource
	Sources  SourceStore
	Dedupe   Deduplicator
	Resolver EntityResolver
	Writer   ArticleWriter
	Indexer  Indexer
	Events   EventSink
	Logger   *slog.Logger
}

// Options tune a run.
type Options struct {
	// Concurrency bounds provider workers; zero means one per provider.
	Concurrency int
	// FetchParams are per-provider query overrides keyed by identifier.
	FetchParams      map[string]url.Values
	KeywordLimit     int
	KeywordMinLength int
	// SinkTimeout bounds one index, event or dead-letter delivery.
	SinkTimeout time.Duration
	// SinkQueueSize is how many deliveries may wait before new ones are dropped.
	SinkQueueSize int
	// SinkFlushGrace is how long a finished run waits for pending deliveries.
	SinkFlushGrace time.Duration
}

// Orchestrator runs aggregations. At most one run is active at a time.
type Orchestrator struct {
	deps  Deps
	opts  Options
	log   *slog.Logger
	now   func() time.Time
	state atomic.Int32

	mu   sync.Mutex
	last *Stats
}

// New validates deps and builds an Orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Clients == nil:
		return nil, errors.New("aggregator: clients are required")
	case deps.Sources == nil:
		return nil, errors.New("aggregator: source store is required")
	case deps.Dedupe == nil:
		return nil, errors.New("aggregator: deduplicator is required")
	case deps.Resolver == nil:
		return nil, errors.New("aggregator: resolver is required")
	case deps.Writer == nil:
		return nil, errors.New("aggregator: writer is required")
	}
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}
	if opts.Concurrency < 0 {
		return nil, fmt.Errorf("aggregator: negative concurrency %d", opts.Concurrency)
	}
	if opts.KeywordLimit <= 0 {
		opts.KeywordLimit = 8
	}
	if opts.KeywordMinLength <= 0 {
		opts.KeywordMinLength = 4
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = defaultSinkTimeout
	}
	if opts.SinkQueueSize <= 0 {
		opts.SinkQueueSize = defaultSinkQueueSize
	}
	if opts.SinkFlushGrace <= 0 {
		opts.SinkFlushGrace = defaultSinkFlushGrace
	}

	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Orchestrator{
		deps: deps,
		opts: opts,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// LastStats returns the report of the most recent finished run.
func (o *Orchestrator) LastStats() (Stats, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Stats{}, false
	}
	return *o.last, true
}

// Run performs one aggregation pass. Provider and article failures are
// counted in the returned Stats and never abort the run. An error is
// returned only when storage is unreachable (ErrStorageUnavailable), when
// another run is active (ErrRunInProgress), or when ctx ends before the run
// finishes; partial Stats accompany the last two cases.
func (o *Orchestrator) Run(ctx context.Context) (Stats, error) {
	for {
		cur := State(o.state.Load())
		if cur == StateRunning {
			return Stats{}, ErrRunInProgress
		}
		if o.state.CompareAndSwap(int32(cur), int32(StateRunning)) {
			break
		}
	}
	defer o.state.Store(int32(StateCompleted))

	stats, err := o.run(ctx)

	o.mu.Lock()
	o.last = &stats
	o.mu.Unlock()
	return stats, err
}

func (o *Orchestrator) run(ctx context.Context) (Stats, error) {
	runID := uuid.NewString()
	log := o.log.With(slog.String("run_id", runID))
	started := o.now()

	clients := o.deps.Clients.ActiveClients()
	t := &tally{stats: Stats{RunID: runID, StartedAt: started, Providers: make([]ProviderStats, len(clients))}}
	for i, c := range clients {
		t.stats.Providers[i] = ProviderStats{Provider: c.Identifier()}
	}

	finish := func(err error) (Stats, error) {
		t.stats.FinishedAt = o.now()
		return t.stats, err
	}

	if err := ctx.Err(); err != nil {
		return finish(fmt.Errorf("aggregation interrupted: %w", err))
	}
	if err := o.deps.Sources.Ping(ctx); err != nil {
		log.Error("storage unreachable, aborting run", slog.Any("err", err))
		return finish(fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
	}

	if len(clients) == 0 {
		log.Warn("no active providers configured")
		return finish(nil)
	}

	limit := o.opts.Concurrency
	if limit <= 0 || limit > len(clients) {
		limit = len(clients)
	}

	log.Info("aggregation started", slog.Int("providers", len(clients)), slog.Int("workers", limit))

	sinks := startSinkQueue(ctx, o.opts.SinkQueueSize, o.opts.SinkTimeout)

	results := make(chan message, limit)
	go func() {
		var g errgroup.Group
		g.SetLimit(limit)
		for i, client := range clients {
			g.Go(func() error {
				o.runProvider(ctx, log, runID, i, client, sinks, results)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	for m := range results {
		t.add(m)
	}
	sinks.flush(o.opts.SinkFlushGrace)

	stats, _ := finish(nil)
	log.Info("aggregation finished",
		slog.Int("fetched", stats.Fetched),
		slog.Int("saved", stats.Saved),
		slog.Int("skipped", stats.Skipped),
		slog.Int("errors", stats.Errors),
		slog.Duration("took", stats.FinishedAt.Sub(stats.StartedAt)),
	)

	if t.storageDown() {
		return stats, fmt.Errorf("%w: every write failed", ErrStorageUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("aggregation interrupted: %w", err)
	}
	return stats, nil
}

// runProvider fetches one provider and processes its articles sequentially.
func (o *Orchestrator) runProvider(
	ctx context.Context,
	runLog *slog.Logger,
	runID string,
	idx int,
	client sources.Client,
	sinks *sinkQueue,
	out chan<- message,
) {
	ident := client.Identifier()
	log := runLog.With(slog.String("provider", ident))
	finished := func(status ProviderStatus, err error) {
		out <- message{provider: idx, kind: kindFinished, status: status, err: err}
	}

	if ctx.Err() != nil {
		finished(StatusCanceled, ctx.Err())
		return
	}

	articles, err := client.Fetch(ctx, o.opts.FetchParams[ident])
	if err != nil && ctx.Err() != nil {
		log.Info("fetch interrupted by cancellation")
		finished(StatusCanceled, ctx.Err())
		return
	}
	if err != nil {
		var fe *sources.FetchError
		if errors.As(err, &fe) && fe.StatusCode != 0 {
			log.Warn("fetch failed", slog.Int("status", fe.StatusCode), slog.Any("err", err))
		} else {
			log.Warn("fetch failed", slog.Any("err", err))
		}
		finished(StatusFetchFailed, err)
		return
	}

	out <- message{provider: idx, kind: kindFetched, fetched: len(articles)}
	log.Debug("fetched articles", slog.Int("count", len(articles)))
	if len(articles) == 0 {
		finished(StatusEmpty, nil)
		return
	}
	if ctx.Err() != nil {
		finished(StatusCanceled, ctx.Err())
		return
	}

	source, err := o.deps.Sources.SourceByAPIIdentifier(ctx, ident)
	switch {
	case err != nil && ctx.Err() != nil:
		finished(StatusCanceled, ctx.Err())
		return
	case errors.Is(err, storage.ErrNotFound):
		log.Warn("skipping batch: no source row for provider", slog.Int("articles", len(articles)))
		finished(StatusSourceMissing, fmt.Errorf("%w: %s", ErrSourceNotConfigured, ident))
		return
	case err != nil:
		log.Error("source lookup failed", slog.Any("err", err))
		unavailable := storage.IsUnavailable(err)
		for range articles {
			out <- message{provider: idx, kind: kindArticle, outcome: outcomeFailed, unavailable: unavailable}
		}
		finished(StatusStoreFailed, err)
		return
	case !source.IsActive:
		log.Warn("skipping batch: source is inactive", slog.Int("articles", len(articles)))
		finished(StatusSourceInactive, nil)
		return
	}

	for _, a := range articles {
		if ctx.Err() != nil {
			log.Info("run canceled, leaving remaining articles")
			finished(StatusCanceled, ctx.Err())
			return
		}
		res, unavailable := o.processArticle(ctx, log, runID, ident, source, a, sinks)
		out <- message{provider: idx, kind: kindArticle, outcome: res, unavailable: unavailable}
	}
	finished(StatusOK, nil)
}

// processArticle runs dedupe, resolution and the write for one article.
// Once started the storage work is not interrupted by cancellation of ctx;
// sink deliveries are queued and stay bound to ctx.
func (o *Orchestrator) processArticle(
	ctx context.Context,
	log *slog.Logger,
	runID, provider string,
	source models.Source,
	in models.NormalizedArticle,
	sinks *sinkQueue,
) (outcome, bool) {
	storeCtx := context.WithoutCancel(ctx)
	articleLog := log.With(slog.String("url", in.URL), slog.String("title", in.Title))

	fail := func(stage string, err error) (outcome, bool) {
		articleLog.Error("article failed", slog.String("stage", stage), slog.Any("err", err))
		o.deadLetter(sinks, articleLog, events.DeadLetter{
			Provider: provider,
			RunID:    runID,
			Article:  in,
			Err:      err,
		})
		return outcomeFailed, storage.IsUnavailable(err)
	}

	exists, err := o.deps.Dedupe.Exists(storeCtx, in.URL)
	if err != nil {
		return fail("dedupe", err)
	}
	if exists {
		articleLog.Debug("duplicate article")
		return outcomeSkipped, false
	}

	author, err := o.deps.Resolver.ResolveAuthor(storeCtx, in.AuthorName, "")
	if err != nil {
		return fail("resolve_author", &writer.PersistenceError{URL: in.URL, Err: err})
	}
	category, err := o.deps.Resolver.ResolveCategory(storeCtx, in.CategoryLabel)
	if err != nil {
		return fail("resolve_category", &writer.PersistenceError{URL: in.URL, Err: err})
	}

	saved, err := o.deps.Writer.Write(storeCtx, in, source.ID, author, category)
	if errors.Is(err, writer.ErrDuplicateArticle) {
		o.deps.Dedupe.Remember(in.URL)
		articleLog.Debug("duplicate article detected on write")
		return outcomeSkipped, false
	}
	if err != nil {
		return fail("write", err)
	}

	o.deps.Dedupe.Remember(in.URL)
	saved.Source = &source
	articleLog.Info("article saved", slog.Int64("article_id", saved.ID), slog.String("slug", saved.Slug))

	o.publish(sinks, articleLog, runID, saved)
	return outcomeSaved, false
}

// publish queues the post-commit sinks. Failures are logged only.
func (o *Orchestrator) publish(sinks *sinkQueue, log *slog.Logger, runID string, saved models.Article) {
	if o.deps.Indexer != nil {
		doc := elasticsearch.NewDocument(saved, o.opts.KeywordLimit, o.opts.KeywordMinLength)
		sinks.submit(sinkJob{name: "search indexing", log: log, send: func(ctx context.Context) error {
			return o.deps.Indexer.IndexArticle(ctx, doc)
		}})
	}
	sinks.submit(sinkJob{name: "event publish", log: log, send: func(ctx context.Context) error {
		return o.deps.Events.ArticleIngested(ctx, runID, saved)
	}})
}

func (o *Orchestrator) deadLetter(sinks *sinkQueue, log *slog.Logger, dl events.DeadLetter) {
	sinks.submit(sinkJob{name: "dead letter", log: log, send: func(ctx context.Context) error {
		return o.deps.Events.DeadLetter(ctx, dl)
	}})
}
