// Package elasticsearch keeps a search projection of stored articles. The
// relational store stays the source of truth; the index can be rebuilt or
// pruned without touching it.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/news-radar/backend/internal/models"
	"github.com/DeafMist/news-radar/backend/internal/processing"
)

// Client wraps go-elasticsearch for the article index.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
	now   func() time.Time
}

// SearchParams narrow a full-text search.
type SearchParams struct {
	Query      string
	Keywords   []string
	Source     string
	Categories []string
	From       int
	Size       int
	Sort       string
	Start      *time.Time
	End        *time.Time
}

// SearchResult bundles hits and total count.
type SearchResult struct {
	Total int64                    `json:"total"`
	Items []models.ArticleDocument `json:"items"`
}

var sortableFields = map[string]bool{"published_at": true, "title.raw": true, "_score": true}

var indexMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"id":           map[string]any{"type": "keyword"},
			"article_id":   map[string]any{"type": "long"},
			"title":        map[string]any{"type": "text", "fields": map[string]any{"raw": map[string]any{"type": "keyword"}}},
			"description":  map[string]any{"type": "text"},
			"content":      map[string]any{"type": "text"},
			"url":          map[string]any{"type": "keyword"},
			"image_url":    map[string]any{"type": "keyword", "index": false},
			"source":       map[string]any{"type": "keyword"},
			"author":       map[string]any{"type": "keyword"},
			"categories":   map[string]any{"type": "keyword"},
			"keywords":     map[string]any{"type": "keyword"},
			"published_at": map[string]any{"type": "date"},
		},
	},
}

// New instantiates the client. Nothing is sent until the first call.
func New(addr, index string, logger *slog.Logger) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  []string{addr},
		MaxRetries: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{es: es, index: index, log: logger, now: time.Now}, nil
}

// Index returns the index name.
func (c *Client) Index() string { return c.index }

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}
	return nil
}

// Health reports an error unless the cluster answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("cluster health: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("cluster health bad: %s", readError(res))
	}
	return nil
}

// EnsureIndex creates the article index with its mapping when missing.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", c.index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index %s: %s", c.index, res.Status())
	}

	payload, err := json.Marshal(indexMapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	res, err = c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", c.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg := readError(res)
		if strings.Contains(msg, "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index %s: %s", c.index, msg)
	}
	c.log.Info("created search index", slog.String("index", c.index))
	return nil
}

// NewDocument projects a stored article into its search document. The
// document id is derived from the URL so re-indexing overwrites.
func NewDocument(a models.Article, keywordLimit, minLength int) models.ArticleDocument {
	doc := models.ArticleDocument{
		ID:          processing.BuildDocumentID(a.URL),
		ArticleID:   a.ID,
		Title:       a.Title,
		Description: a.Description,
		Content:     processing.StripHTML(a.Content),
		URL:         a.URL,
		ImageURL:    a.ImageURL,
		PublishedAt: a.PublishedAt.UTC(),
	}
	if a.Source != nil {
		doc.Source = a.Source.Name
	}
	if a.Author != nil {
		doc.Author = a.Author.Name
	}
	for _, cat := range a.Categories {
		doc.Categories = append(doc.Categories, cat.Name)
	}
	doc.Keywords = processing.ExtractKeywords(
		doc.Title+" "+doc.Description+" "+processing.CleanText(doc.Content), keywordLimit, minLength)
	if doc.Keywords == nil {
		doc.Keywords = []string{}
	}
	return doc
}

// IndexArticle writes a document into the index.
func (c *Client) IndexArticle(ctx context.Context, doc models.ArticleDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index doc: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index doc %s failed: %s", doc.ID, readError(res))
	}
	return nil
}

// SearchArticles runs a bool query: full text in must, the rest as filters.
func (c *Client) SearchArticles(ctx context.Context, params SearchParams) (*SearchResult, error) {
	body, err := buildSearchBody(params)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search failed: %s", readError(res))
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.ArticleDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]models.ArticleDocument, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
	}
	return &SearchResult{Total: parsed.Hits.Total.Value, Items: items}, nil
}

func buildSearchBody(params SearchParams) (map[string]any, error) {
	if params.Size <= 0 {
		params.Size = 20
	}
	params.Size = min(params.Size, 100)
	params.From = max(params.From, 0)

	var must, filters []map[string]any

	if q := strings.TrimSpace(params.Query); q != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  q,
				"fields": []string{"title^3", "description^2", "content"},
			},
		})
	}
	if len(params.Keywords) > 0 {
		filters = append(filters, map[string]any{"terms": map[string]any{"keywords": params.Keywords}})
	}
	if len(params.Categories) > 0 {
		filters = append(filters, map[string]any{"terms": map[string]any{"categories": params.Categories}})
	}
	if params.Source != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"source": params.Source}})
	}
	if params.Start != nil || params.End != nil {
		rng := map[string]any{}
		if params.Start != nil {
			rng["gte"] = params.Start.UTC().Format(time.RFC3339)
		}
		if params.End != nil {
			rng["lte"] = params.End.UTC().Format(time.RFC3339)
		}
		filters = append(filters, map[string]any{"range": map[string]any{"published_at": rng}})
	}

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = must
	} else {
		boolQuery["must"] = []map[string]any{{"match_all": map[string]any{}}}
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	field, order := "published_at", "desc"
	if params.Sort != "" {
		parts := strings.SplitN(params.Sort, ":", 2)
		if parts[0] != "" {
			field = parts[0]
		}
		if len(parts) == 2 && parts[1] != "" {
			order = strings.ToLower(parts[1])
		}
	}
	if !sortableFields[field] {
		return nil, fmt.Errorf("unsupported sort field %q", field)
	}
	if order != "asc" && order != "desc" {
		return nil, fmt.Errorf("unsupported sort order %q", order)
	}

	return map[string]any{
		"from":             params.From,
		"size":             params.Size,
		"track_total_hits": true,
		"query":            map[string]any{"bool": boolQuery},
		"sort":             []map[string]any{{field: map[string]any{"order": order}}},
	}, nil
}

// DeleteOlderThan removes documents published before now-maxAge, at most
// batchSize per delete-by-query call, until a call deletes less than a full
// batch.
func (c *Client) DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := c.now().Add(-maxAge).UTC().Format(time.RFC3339)
	payload, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"range": map[string]any{"published_at": map[string]any{"lt": cutoff}},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal delete body: %w", err)
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		res, err := c.es.DeleteByQuery(
			[]string{c.index},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithMaxDocs(batchSize),
			c.es.DeleteByQuery.WithRefresh(true),
		)
		if err != nil {
			return total, fmt.Errorf("delete by query: %w", err)
		}

		deleted, err := decodeDeleted(res)
		if err != nil {
			return total, err
		}
		total += deleted

		c.log.Debug("retention batch", slog.Int64("deleted", deleted), slog.String("cutoff", cutoff))
		if deleted < int64(batchSize) {
			return total, nil
		}
	}
}

func decodeDeleted(res *esapi.Response) (int64, error) {
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("delete by query failed: %s", readError(res))
	}
	var parsed struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	return parsed.Deleted, nil
}

func readError(res *esapi.Response) string {
	data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return res.Status()
}
