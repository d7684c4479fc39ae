package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/DeafMist/news-radar/backend/internal/aggregator"
	"github.com/DeafMist/news-radar/backend/internal/app"
	"github.com/DeafMist/news-radar/backend/internal/config"
	"github.com/DeafMist/news-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/news-radar/backend/internal/logger"
	"github.com/DeafMist/news-radar/backend/internal/models"
	"github.com/DeafMist/news-radar/backend/internal/storage"
)

func main() {
	_ = godotenv.Load()

	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pipeline, err := app.Open(ctx, &cfg.Aggregator, log)
	if err != nil {
		log.Error("init pipeline", slog.Any("err", err))
		os.Exit(1)
	}
	defer pipeline.Close()

	srv := &server{
		log:    log,
		cfg:    cfg,
		store:  pipeline.DB,
		runner: pipeline.Orchestrator,
		runCtx: ctx,
	}
	if pipeline.Search != nil {
		srv.search = pipeline.Search
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type articleStore interface {
	Ping(ctx context.Context) error
	SearchArticles(ctx context.Context, q storage.ArticleQuery) (storage.ArticlePage, error)
	Feed(ctx context.Context, userID int64, page, perPage int) (storage.ArticlePage, error)
	ArticleByID(ctx context.Context, id int64) (models.Article, error)
	Preferences(ctx context.Context, userID int64) (models.UserPreference, error)
	SavePreferences(ctx context.Context, pref models.UserPreference) error
	ActiveSources(ctx context.Context) ([]models.Source, error)
	ActiveCategories(ctx context.Context) ([]models.Category, error)
	Authors(ctx context.Context, page, perPage int) (storage.AuthorPage, error)
}

type searcher interface {
	Health(ctx context.Context) error
	SearchArticles(ctx context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error)
}

type runner interface {
	Run(ctx context.Context) (aggregator.Stats, error)
	State() aggregator.State
	LastStats() (aggregator.Stats, bool)
}

type server struct {
	log    *slog.Logger
	cfg    *config.API
	store  articleStore
	search searcher // nil when search is disabled
	runner runner

	// runCtx parents triggered runs so shutdown cancels them.
	runCtx  context.Context
	running atomic.Bool
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/aggregations", func(r chi.Router) {
		r.Post("/", s.handleTrigger)
		r.Get("/last", s.handleLastRun)
	})
	r.Get("/articles", s.handleArticles)
	r.Get("/articles/{id}", s.handleArticle)
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/feed", s.handleFeed)
		r.Get("/preferences", s.handlePreferences)
		r.Put("/preferences", s.handleSavePreferences)
	})
	r.Get("/search", s.handleSearch)
	r.Get("/sources", s.handleSources)
	r.Get("/categories", s.handleCategories)
	r.Get("/authors", s.handleAuthors)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	status := map[string]string{"status": "ok", "aggregation": s.runner.State().String(), "search": "disabled"}
	if s.search != nil {
		status["search"] = "ok"
		if err := s.search.Health(ctx); err != nil {
			status["search"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// handleTrigger starts a run in the background. Runs outlive the request.
func (s *server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.runner.State() == aggregator.StateRunning || !s.running.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: aggregator.ErrRunInProgress.Error()})
		return
	}

	go func() {
		defer s.running.Store(false)
		ctx, cancel := context.WithTimeout(s.runCtx, s.cfg.RunTimeout)
		defer cancel()

		stats, err := s.runner.Run(ctx)
		if err != nil {
			s.log.Error("triggered aggregation failed", slog.Any("err", err))
			return
		}
		s.log.Info("triggered aggregation finished", slog.String("run_id", stats.RunID), slog.Int("saved", stats.Saved))
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.runner.LastStats()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no aggregation has run yet"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleArticles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	query := storage.ArticleQuery{
		Keyword:   strings.TrimSpace(q.Get("keyword")),
		SortBy:    strings.TrimSpace(q.Get("sort_by")),
		SortOrder: strings.TrimSpace(q.Get("sort_order")),
		Page:      clampInt(q.Get("page"), 1, 1<<20),
		PerPage:   clampInt(q.Get("per_page"), s.cfg.DefaultPage, s.cfg.MaxPage),
	}

	var err error
	if query.From, err = parseDate(q.Get("from")); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "from: " + err.Error()})
		return
	}
	if query.To, err = parseDate(q.Get("to")); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "to: " + err.Error()})
		return
	}
	for param, dst := range map[string]*[]int64{
		"sources":    &query.SourceIDs,
		"categories": &query.CategoryIDs,
		"authors":    &query.AuthorIDs,
	} {
		if *dst, err = parseIDs(q.Get(param)); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: param + ": " + err.Error()})
			return
		}
	}

	page, err := s.store.SearchArticles(ctx, query)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *server) handleArticle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid article id"})
		return
	}

	article, err := s.store.ArticleByID(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, article)
}

func (s *server) handleFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	page, err := s.store.Feed(r.Context(), userID,
		clampInt(q.Get("page"), 1, 1<<20),
		clampInt(q.Get("per_page"), s.cfg.DefaultPage, s.cfg.MaxPage))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	pref, err := s.store.Preferences(r.Context(), userID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

type preferencesRequest struct {
	PreferredSources    []int64 `json:"preferred_sources"`
	PreferredCategories []int64 `json:"preferred_categories"`
	PreferredAuthors    []int64 `json:"preferred_authors"`
}

func (s *server) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req preferencesRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body: " + err.Error()})
		return
	}

	pref := models.UserPreference{
		UserID:              userID,
		PreferredSources:    req.PreferredSources,
		PreferredCategories: req.PreferredCategories,
		PreferredAuthors:    req.PreferredAuthors,
	}
	if err := s.store.SavePreferences(r.Context(), pref); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func (s *server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ActiveSources(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[models.Source]{Data: sources})
}

func (s *server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ActiveCategories(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[models.Category]{Data: categories})
}

func (s *server) handleAuthors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.store.Authors(r.Context(),
		clampInt(q.Get("page"), 1, 1<<20),
		clampInt(q.Get("per_page"), s.cfg.DefaultPage, s.cfg.MaxPage))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "search is not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	params := elasticsearch.SearchParams{
		Query:      strings.TrimSpace(q.Get("q")),
		Keywords:   parseCSV(q.Get("keywords")),
		Source:     strings.TrimSpace(q.Get("source")),
		Categories: parseCSV(q.Get("categories")),
		From:       clampInt(q.Get("from"), 0, 10_000),
		Size:       clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
		Sort:       strings.TrimSpace(q.Get("sort")),
		Start:      parseTime(q.Get("start")),
		End:        parseTime(q.Get("end")),
	}

	result, err := s.search.SearchArticles(ctx, params)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, storage.ErrInvalidQuery):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case storage.IsUnavailable(err):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		s.log.Error("store query failed", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid user id"})
		return 0, false
	}
	return userID, true
}

// parseDate accepts YYYY-MM-DD or RFC3339; empty means unset.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.DateOnly, raw); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	return nil
}

func parseIDs(raw string) ([]int64, error) {
	parts := parseCSV(raw)
	if len(parts) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, errors.New("ids must be integers")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
