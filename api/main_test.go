package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-radar/backend/internal/aggregator"
	"github.com/DeafMist/news-radar/backend/internal/config"
	"github.com/DeafMist/news-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/news-radar/backend/internal/logger"
	"github.com/DeafMist/news-radar/backend/internal/models"
	"github.com/DeafMist/news-radar/backend/internal/storage"
)

type stubRunner struct {
	mu      sync.Mutex
	state   aggregator.State
	calls   int
	release chan struct{}
	last    *aggregator.Stats
}

func (r *stubRunner) Run(context.Context) (aggregator.Stats, error) {
	r.mu.Lock()
	r.calls++
	r.state = aggregator.StateRunning
	r.mu.Unlock()

	if r.release != nil {
		<-r.release
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = aggregator.StateCompleted
	stats := aggregator.Stats{RunID: "run-" + strconv.Itoa(r.calls), Saved: 2}
	r.last = &stats
	return stats, nil
}

func (r *stubRunner) State() aggregator.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *stubRunner) LastStats() (aggregator.Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return aggregator.Stats{}, false
	}
	return *r.last, true
}

type stubSearcher struct {
	params elasticsearch.SearchParams
}

func (s *stubSearcher) Health(context.Context) error { return nil }

func (s *stubSearcher) SearchArticles(_ context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error) {
	s.params = params
	return &elasticsearch.SearchResult{
		Total: 1,
		Items: []models.ArticleDocument{{ID: "doc", Title: "Found"}},
	}, nil
}

type fixture struct {
	srv     *server
	handler http.Handler
	db      *storage.DB
	runner  *stubRunner
	article models.Article
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(filepath.Join(t.TempDir(), "news.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	src, err := db.UpsertSource(ctx, models.Source{Name: "The Guardian", Slug: "the-guardian", APIIdentifier: "the-guardian", IsActive: true})
	require.NoError(t, err)
	cat, err := db.UpsertCategory(ctx, models.Category{Name: "Technology", Slug: "technology", IsActive: true})
	require.NoError(t, err)

	article := models.Article{
		Title:       "Chips get faster",
		Slug:        "chips-get-faster-0001",
		URL:         "https://guardian.test/chips",
		SourceID:    src.ID,
		PublishedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Transaction(ctx, func(tx *storage.Tx) error {
		if err := tx.InsertArticle(ctx, &article); err != nil {
			return err
		}
		return tx.AttachCategory(ctx, article.ID, cat.ID)
	}))

	runner := &stubRunner{}
	srv := &server{
		log:    logger.Discard(),
		cfg:    &config.API{Aggregator: config.Aggregator{RunTimeout: time.Minute}, DefaultPage: 15, MaxPage: 100},
		store:  db,
		runner: runner,
		runCtx: ctx,
	}
	return &fixture{srv: srv, handler: srv.routes(), db: db, runner: runner, article: article}
}

// waitIdle blocks until the background run started by a trigger has returned.
func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !f.srv.running.Load() && f.runner.State() == aggregator.StateCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	return f.send(t, method, target, "")
}

func (f *fixture) send(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "disabled", body["search"])
	require.Equal(t, "idle", body["aggregation"])

	require.NoError(t, f.db.Close())
	rec = f.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestArticlesEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/articles?keyword=chips&from=2024-04-01&categories=1")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[storage.ArticlePage](t, rec)
	require.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	require.Equal(t, f.article.URL, page.Items[0].URL)
	require.NotNil(t, page.Items[0].Source)
	require.Len(t, page.Items[0].Categories, 1)

	rec = f.do(t, http.MethodGet, "/articles?from=2024-06-01")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, decode[storage.ArticlePage](t, rec).Total)
}

func TestArticlesEndpointRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	for _, target := range []string{
		"/articles?from=yesterday",
		"/articles?sources=a,b",
		"/articles?sort_by=popularity",
		"/articles?from=2024-05-02&to=2024-05-01",
	} {
		rec := f.do(t, http.MethodGet, target)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestArticleByIDEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/articles/"+strconv.FormatInt(f.article.ID, 10))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, f.article.Title, decode[models.Article](t, rec).Title)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/articles/9999").Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/articles/abc").Code)
}

func TestFeedEndpoint(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.db.SavePreferences(context.Background(), models.UserPreference{
		UserID:           7,
		PreferredSources: []int64{f.article.SourceID},
	}))

	rec := f.do(t, http.MethodGet, "/users/7/feed?per_page=5")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[storage.ArticlePage](t, rec)
	require.Equal(t, 1, page.Total)
	require.Equal(t, 5, page.PerPage)

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/users/zero/feed").Code)
}

func TestPreferencesEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/users/3/preferences")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decode[models.UserPreference](t, rec).PreferredSources)

	rec = f.send(t, http.MethodPut, "/users/3/preferences", `{"preferred_sources":[1],"preferred_categories":[1,2]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/users/3/preferences")
	require.Equal(t, http.StatusOK, rec.Code)
	pref := decode[models.UserPreference](t, rec)
	require.Equal(t, []int64{1}, pref.PreferredSources)
	require.Equal(t, []int64{1, 2}, pref.PreferredCategories)

	rec = f.send(t, http.MethodPut, "/users/3/preferences", `{"preferred_colors":["red"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/search?q=chips").Code)

	search := &stubSearcher{}
	f.srv.search = search
	rec := f.do(t, http.MethodGet, "/search?q=chips&categories=Technology,Science&size=500&start=2024-01-01T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), decode[elasticsearch.SearchResult](t, rec).Total)

	require.Equal(t, "chips", search.params.Query)
	require.Equal(t, []string{"Technology", "Science"}, search.params.Categories)
	require.Equal(t, 100, search.params.Size)
	require.NotNil(t, search.params.Start)
	require.Nil(t, search.params.End)
}

func TestTriggerAggregation(t *testing.T) {
	f := newFixture(t)
	f.runner.release = make(chan struct{})

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/aggregations/last").Code)

	rec := f.do(t, http.MethodPost, "/aggregations")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/aggregations")
	require.Equal(t, http.StatusConflict, rec.Code)

	close(f.runner.release)
	f.waitIdle(t)

	rec = f.do(t, http.MethodGet, "/aggregations/last")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, decode[aggregator.Stats](t, rec).Saved)

	f.runner.release = nil
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/aggregations").Code)
	f.waitIdle(t)
	stats, ok := f.runner.LastStats()
	require.True(t, ok)
	require.Equal(t, "run-2", stats.RunID)
}

func TestReferenceListEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.db.UpsertSource(ctx, models.Source{Name: "Dormant", Slug: "dormant", APIIdentifier: "dormant"})
	require.NoError(t, err)
	for _, name := range []string{"Amy", "Bob", "Cid"} {
		_, err := f.db.FindOrCreateAuthor(ctx, name, "")
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodGet, "/sources")
	require.Equal(t, http.StatusOK, rec.Code)
	sources := decode[listResponse[models.Source]](t, rec).Data
	require.Len(t, sources, 1)
	require.Equal(t, "the-guardian", sources[0].APIIdentifier)

	rec = f.do(t, http.MethodGet, "/categories")
	require.Equal(t, http.StatusOK, rec.Code)
	categories := decode[listResponse[models.Category]](t, rec).Data
	require.Len(t, categories, 1)
	require.Equal(t, "technology", categories[0].Slug)

	rec = f.do(t, http.MethodGet, "/authors?page=2&per_page=2")
	require.Equal(t, http.StatusOK, rec.Code)
	authors := decode[storage.AuthorPage](t, rec)
	require.Equal(t, 3, authors.Total)
	require.Equal(t, 2, authors.LastPage)
	require.Len(t, authors.Items, 1)
	require.Equal(t, "Cid", authors.Items[0].Name)
}

func TestClampInt(t *testing.T) {
	require.Equal(t, 15, clampInt("", 15, 100))
	require.Equal(t, 15, clampInt("-3", 15, 100))
	require.Equal(t, 15, clampInt("x", 15, 100))
	require.Equal(t, 40, clampInt("40", 15, 100))
	require.Equal(t, 100, clampInt("400", 15, 100))
}
