package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DeafMist/news-radar/backend/internal/models"
)

// ArticleExistsByURL reports whether an article with this URL is stored.
func (d *DB) ArticleExistsByURL(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM articles WHERE url = ?)`, url).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check article url: %w", translate(err))
	}
	return exists, nil
}

// ExistsByURL lets DB serve as the dedupe lookup.
func (d *DB) ExistsByURL(ctx context.Context, url string) (bool, error) {
	return d.ArticleExistsByURL(ctx, url)
}

// CountArticles returns the number of stored articles.
func (d *DB) CountArticles(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count articles: %w", translate(err))
	}
	return n, nil
}

// InsertArticle stores a new article row and fills in its ID and CreatedAt.
// Timestamps are stored in UTC at second precision.
func (t *Tx) InsertArticle(ctx context.Context, a *models.Article) error {
	now := time.Now().UTC().Truncate(time.Second)
	a.PublishedAt = a.PublishedAt.UTC().Truncate(time.Second)

	var authorID sql.NullInt64
	if a.AuthorID != nil {
		authorID = sql.NullInt64{Int64: *a.AuthorID, Valid: true}
	}

	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO articles (title, slug, description, content, url, image_url, source_id, author_id,
			published_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		a.Title, a.Slug, a.Description, a.Content, a.URL, nullString(a.ImageURL), a.SourceID, authorID,
		a.PublishedAt, now, now,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert article: %w", translate(err))
	}
	a.CreatedAt = now
	return nil
}

// AttachCategory links an article to a category.
func (t *Tx) AttachCategory(ctx context.Context, articleID, categoryID int64) error {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO article_categories (article_id, category_id) VALUES (?, ?)`,
		articleID, categoryID); err != nil {
		return fmt.Errorf("attach category %d to article %d: %w", categoryID, articleID, translate(err))
	}
	return nil
}
