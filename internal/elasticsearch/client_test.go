package elasticsearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-radar/backend/internal/models"
	"github.com/DeafMist/news-radar/backend/internal/processing"
)

type recorded struct {
	method string
	path   string
	query  string
	body   map[string]any
}

type fakeCluster struct {
	mu       sync.Mutex
	requests []recorded
	handle   func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &rec.body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	f.handle(w, r)
}

func newTestClient(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) (*Client, *fakeCluster) {
	t.Helper()
	fake := &fakeCluster{handle: handle}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "articles", nil)
	require.NoError(t, err)
	return c, fake
}

func TestIndexArticle(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	doc := models.ArticleDocument{ID: "abc", ArticleID: 1, Title: "T1", URL: "https://x/1", Keywords: []string{"t1"}}
	require.NoError(t, c.IndexArticle(context.Background(), doc))

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	require.Equal(t, http.MethodPut, req.method)
	require.Equal(t, "/articles/_doc/abc", req.path)
	require.Equal(t, "T1", req.body["title"])
	require.Equal(t, float64(1), req.body["article_id"])
}

func TestIndexArticleError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
	})

	err := c.IndexArticle(context.Background(), models.ArticleDocument{ID: "abc"})
	require.ErrorContains(t, err, "mapper_parsing_exception")
}

func TestSearchArticles(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hits":{"total":{"value":2},"hits":[
			{"_source":{"id":"a","title":"First","url":"https://x/1","keywords":["first"]}},
			{"_source":{"id":"b","title":"Second","url":"https://x/2","keywords":[]}}
		]}}`))
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := c.SearchArticles(context.Background(), SearchParams{
		Query:      "election",
		Source:     "The Guardian",
		Categories: []string{"Politics"},
		Start:      &start,
		Size:       500,
		Sort:       "published_at:asc",
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Total)
	require.Len(t, res.Items, 2)
	require.Equal(t, "First", res.Items[0].Title)

	req := fake.requests[0]
	require.Equal(t, "/articles/_search", req.path)
	require.Equal(t, float64(100), req.body["size"], "size is capped")

	query := req.body["query"].(map[string]any)["bool"].(map[string]any)
	require.Len(t, query["must"], 1)
	require.Len(t, query["filter"], 3)

	sort := req.body["sort"].([]any)[0].(map[string]any)
	require.Equal(t, "asc", sort["published_at"].(map[string]any)["order"])
}

func TestBuildSearchBodyRejectsUnknownSort(t *testing.T) {
	_, err := buildSearchBody(SearchParams{Sort: "content:desc"})
	require.Error(t, err)

	_, err = buildSearchBody(SearchParams{Sort: "published_at:sideways"})
	require.Error(t, err)

	body, err := buildSearchBody(SearchParams{})
	require.NoError(t, err)
	must := body["query"].(map[string]any)["bool"].(map[string]any)["must"].([]map[string]any)
	require.Contains(t, must[0], "match_all")
}

func TestDeleteOlderThanBatches(t *testing.T) {
	calls := 0
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		deleted := 10
		if calls == 3 {
			deleted = 4
		}
		_, _ = w.Write([]byte(`{"deleted":` + strconv.Itoa(deleted) + `}`))
	})
	c.now = func() time.Time { return time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC) }

	total, err := c.DeleteOlderThan(context.Background(), 30*24*time.Hour, 10)
	require.NoError(t, err)
	require.Equal(t, int64(24), total)
	require.Equal(t, 3, calls)

	req := fake.requests[0]
	require.Equal(t, "/articles/_delete_by_query", req.path)
	require.Contains(t, req.query, "max_docs=10")
	rng := req.body["query"].(map[string]any)["range"].(map[string]any)["published_at"].(map[string]any)
	require.Equal(t, "2024-05-31T00:00:00Z", rng["lt"])
}

func TestEnsureIndexCreatesWhenMissing(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	})

	require.NoError(t, c.EnsureIndex(context.Background()))
	require.Len(t, fake.requests, 2)
	require.Equal(t, http.MethodPut, fake.requests[1].method)
	require.Equal(t, "/articles", fake.requests[1].path)
	require.Contains(t, fake.requests[1].body, "mappings")
}

func TestEnsureIndexNoopWhenPresent(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.EnsureIndex(context.Background()))
	require.Len(t, fake.requests, 1)
}

func TestNewDocument(t *testing.T) {
	authorID := int64(3)
	a := models.Article{
		ID:          9,
		Title:       "Election results announced",
		Description: "Voters turned out in record numbers",
		Content:     "<p>The election drew record turnout https://example.com/more</p>",
		URL:         "https://x/9",
		AuthorID:    &authorID,
		PublishedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.FixedZone("X", 3600)),
		Source:      &models.Source{Name: "The Guardian"},
		Author:      &models.Author{ID: 3, Name: "Jane Doe"},
		Categories:  []models.Category{{Name: "Politics"}},
	}

	doc := NewDocument(a, 5, 4)
	require.Equal(t, processing.BuildDocumentID("https://x/9"), doc.ID)
	require.Equal(t, int64(9), doc.ArticleID)
	require.Equal(t, "The Guardian", doc.Source)
	require.Equal(t, "Jane Doe", doc.Author)
	require.Equal(t, []string{"Politics"}, doc.Categories)
	require.Equal(t, "election", doc.Keywords[0])
	require.Equal(t, time.UTC, doc.PublishedAt.Location())
	require.NotContains(t, doc.Content, "<p>")

	bare := NewDocument(models.Article{URL: "https://x/10"}, 5, 4)
	require.NotNil(t, bare.Keywords)
	require.Empty(t, bare.Source)
}

func TestHealthAndPing(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"green"}`))
	})
	require.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.Health(context.Background()))

	down, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"forbidden"}`))
	})
	require.Error(t, down.Health(context.Background()))
	require.Error(t, down.Ping(context.Background()))
}
