package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DeafMist/news-radar/backend/internal/models"
)

// Read-path limits.
const (
	DefaultPerPage = 15
	MaxPerPage     = 100
)

// likeEscaper makes a user keyword match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

var sortColumns = map[string]string{
	"published_at": "a.published_at",
	"created_at":   "a.created_at",
	"title":        "a.title",
}

// ArticleQuery filters and paginates stored articles. Zero values mean
// "no filter"; id sets match any member.
type ArticleQuery struct {
	Keyword     string
	From        time.Time
	To          time.Time
	SourceIDs   []int64
	CategoryIDs []int64
	AuthorIDs   []int64
	SortBy      string
	SortOrder   string
	Page        int
	PerPage     int
}

// ArticlePage is one page of search results with eagerly loaded relations.
type ArticlePage struct {
	Items    []models.Article `json:"data"`
	Total    int              `json:"total"`
	Page     int              `json:"current_page"`
	PerPage  int              `json:"per_page"`
	LastPage int              `json:"last_page"`
}

func (q *ArticleQuery) normalize() error {
	if q.SortBy == "" {
		q.SortBy = "published_at"
	}
	if _, ok := sortColumns[q.SortBy]; !ok {
		return fmt.Errorf("%w: sort_by must be one of published_at, created_at, title", ErrInvalidQuery)
	}
	q.SortOrder = strings.ToLower(q.SortOrder)
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}
	if q.SortOrder != "asc" && q.SortOrder != "desc" {
		return fmt.Errorf("%w: sort_order must be asc or desc", ErrInvalidQuery)
	}
	if q.PerPage == 0 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage < 1 || q.PerPage > MaxPerPage {
		return fmt.Errorf("%w: per_page must be between 1 and %d", ErrInvalidQuery, MaxPerPage)
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return fmt.Errorf("%w: to must not be before from", ErrInvalidQuery)
	}
	return nil
}

// SearchArticles runs a filtered, sorted and paginated article query.
func (d *DB) SearchArticles(ctx context.Context, q ArticleQuery) (ArticlePage, error) {
	if err := q.normalize(); err != nil {
		return ArticlePage{}, err
	}

	var where []string
	var args []any

	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		like := "%" + likeEscaper.Replace(kw) + "%"
		where = append(where,
			`(a.title LIKE ? ESCAPE '\' OR a.description LIKE ? ESCAPE '\' OR a.content LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	if !q.From.IsZero() {
		where = append(where, "a.published_at >= ?")
		args = append(args, q.From.UTC().Truncate(time.Second))
	}
	if !q.To.IsZero() {
		where = append(where, "a.published_at <= ?")
		args = append(args, q.To.UTC().Truncate(time.Second))
	}
	if len(q.SourceIDs) > 0 {
		where = append(where, "a.source_id IN ("+placeholders(len(q.SourceIDs))+")")
		args = append(args, int64Args(q.SourceIDs)...)
	}
	if len(q.CategoryIDs) > 0 {
		where = append(where, "a.id IN (SELECT article_id FROM article_categories WHERE category_id IN ("+
			placeholders(len(q.CategoryIDs))+"))")
		args = append(args, int64Args(q.CategoryIDs)...)
	}
	if len(q.AuthorIDs) > 0 {
		where = append(where, "a.author_id IN ("+placeholders(len(q.AuthorIDs))+")")
		args = append(args, int64Args(q.AuthorIDs)...)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := ArticlePage{Page: q.Page, PerPage: q.PerPage}
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles a`+clause, args...).Scan(&page.Total); err != nil {
		return ArticlePage{}, fmt.Errorf("count articles: %w", translate(err))
	}
	page.LastPage = max(1, (page.Total+q.PerPage-1)/q.PerPage)

	order := sortColumns[q.SortBy] + " " + strings.ToUpper(q.SortOrder) + ", a.id " + strings.ToUpper(q.SortOrder)
	query := `SELECT ` + articleColumns + ` FROM articles a` + clause + ` ORDER BY ` + order + ` LIMIT ? OFFSET ?`
	items, err := d.queryArticles(ctx, query, append(args, q.PerPage, (q.Page-1)*q.PerPage)...)
	if err != nil {
		return ArticlePage{}, err
	}
	page.Items = items
	return page, nil
}

// Feed returns the newest articles matching a user's preferences. Each
// non-empty preference set narrows the feed; a user without preferences sees
// every article.
func (d *DB) Feed(ctx context.Context, userID int64, page, perPage int) (ArticlePage, error) {
	pref, err := d.Preferences(ctx, userID)
	if err != nil {
		return ArticlePage{}, err
	}
	return d.SearchArticles(ctx, ArticleQuery{
		SourceIDs:   pref.PreferredSources,
		CategoryIDs: pref.PreferredCategories,
		AuthorIDs:   pref.PreferredAuthors,
		SortBy:      "published_at",
		SortOrder:   "desc",
		Page:        page,
		PerPage:     perPage,
	})
}

// ArticleByID returns one article with its relations loaded.
func (d *DB) ArticleByID(ctx context.Context, id int64) (models.Article, error) {
	items, err := d.queryArticles(ctx, `SELECT `+articleColumns+` FROM articles a WHERE a.id = ?`, id)
	if err != nil {
		return models.Article{}, err
	}
	if len(items) == 0 {
		return models.Article{}, fmt.Errorf("article %d: %w", id, ErrNotFound)
	}
	return items[0], nil
}

const articleColumns = `a.id, a.title, a.slug, COALESCE(a.description, ''), COALESCE(a.content, ''), a.url,
	COALESCE(a.image_url, ''), a.source_id, a.author_id, a.published_at, a.created_at`

func (d *DB) queryArticles(ctx context.Context, query string, args ...any) ([]models.Article, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", translate(err))
	}
	defer rows.Close()

	items := []models.Article{}
	for rows.Next() {
		var a models.Article
		var authorID *int64
		if err := rows.Scan(&a.ID, &a.Title, &a.Slug, &a.Description, &a.Content, &a.URL,
			&a.ImageURL, &a.SourceID, &authorID, &a.PublishedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		a.AuthorID = authorID
		a.PublishedAt = a.PublishedAt.UTC()
		a.CreatedAt = a.CreatedAt.UTC()
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}

	if err := d.loadRelations(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// loadRelations attaches Source, Author and Categories with one query per
// relation.
func (d *DB) loadRelations(ctx context.Context, items []models.Article) error {
	if len(items) == 0 {
		return nil
	}

	var sourceIDs, authorIDs, articleIDs []int64
	for _, a := range items {
		articleIDs = append(articleIDs, a.ID)
		sourceIDs = append(sourceIDs, a.SourceID)
		if a.AuthorID != nil {
			authorIDs = append(authorIDs, *a.AuthorID)
		}
	}

	sources, err := d.sourcesByID(ctx, uniqueIDs(sourceIDs))
	if err != nil {
		return err
	}
	authors, err := d.authorsByID(ctx, uniqueIDs(authorIDs))
	if err != nil {
		return err
	}
	categories, err := d.categoriesByArticle(ctx, articleIDs)
	if err != nil {
		return err
	}

	for i := range items {
		if src, ok := sources[items[i].SourceID]; ok {
			items[i].Source = &src
		}
		if items[i].AuthorID != nil {
			if author, ok := authors[*items[i].AuthorID]; ok {
				items[i].Author = &author
			}
		}
		items[i].Categories = categories[items[i].ID]
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
