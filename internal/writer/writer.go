// Package writer persists one normalized article and its category link in a
// single transaction.
package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DeafMist/news-radar/backend/internal/models"
	"github.com/DeafMist/news-radar/backend/internal/processing"
	"github.com/DeafMist/news-radar/backend/internal/storage"
)

const (
	defaultSlugAttempts = 3
	suffixLength        = 8
	maxSlugBase         = 180
)

// ErrDuplicateArticle means another writer already stored the URL.
var ErrDuplicateArticle = errors.New("duplicate article")

// PersistenceError wraps every write failure other than a duplicate URL.
type PersistenceError struct {
	URL string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist article %q: %v", e.URL, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store runs a function inside a write transaction.
type Store interface {
	Transaction(ctx context.Context, fn func(*storage.Tx) error) error
}

// Writer creates articles.
type Writer struct {
	store    Store
	now      func() time.Time
	suffix   func() string
	attempts int
}

// Option customizes a Writer.
type Option func(*Writer)

// WithClock overrides the ingestion clock.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithSuffix overrides the random slug suffix generator.
func WithSuffix(fn func() string) Option {
	return func(w *Writer) { w.suffix = fn }
}

func New(store Store, opts ...Option) *Writer {
	w := &Writer{
		store:    store,
		now:      time.Now,
		suffix:   randomSuffix,
		attempts: defaultSlugAttempts,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write stores the article and, when category is not nil, its association.
// Both rows commit together or not at all. A slug collision is retried with
// a fresh suffix; a URL collision returns ErrDuplicateArticle. The
// transaction ignores cancellation of ctx once started.
func (w *Writer) Write(
	ctx context.Context,
	in models.NormalizedArticle,
	sourceID int64,
	author *models.Author,
	category *models.Category,
) (models.Article, error) {
	ctx = context.WithoutCancel(ctx)

	publishedAt := in.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = w.now()
	}

	var lastErr error
	for attempt := 0; attempt < w.attempts; attempt++ {
		article := models.Article{
			Title:       in.Title,
			Slug:        BuildSlug(in.Title, w.suffix()),
			Description: in.Description,
			Content:     in.Content,
			URL:         in.URL,
			ImageURL:    in.ImageURL,
			SourceID:    sourceID,
			PublishedAt: publishedAt,
		}
		if author != nil {
			id := author.ID
			article.AuthorID = &id
		}

		err := w.store.Transaction(ctx, func(tx *storage.Tx) error {
			if err := tx.InsertArticle(ctx, &article); err != nil {
				return err
			}
			if category != nil {
				return tx.AttachCategory(ctx, article.ID, category.ID)
			}
			return nil
		})

		switch {
		case err == nil:
			article.Author = author
			if category != nil {
				article.Categories = []models.Category{*category}
			}
			return article, nil
		case errors.Is(err, storage.ErrDuplicateURL):
			return models.Article{}, fmt.Errorf("%w: %s", ErrDuplicateArticle, in.URL)
		case errors.Is(err, storage.ErrDuplicateSlug):
			lastErr = err
			continue
		default:
			return models.Article{}, &PersistenceError{URL: in.URL, Err: err}
		}
	}

	return models.Article{}, &PersistenceError{
		URL: in.URL,
		Err: fmt.Errorf("slug still taken after %d attempts: %w", w.attempts, lastErr),
	}
}

// BuildSlug joins the slugified title and suffix. An untitled article gets
// the "article" base.
func BuildSlug(title, suffix string) string {
	base := processing.Slugify(title)
	if len(base) > maxSlugBase {
		base = strings.TrimRight(base[:maxSlugBase], "-")
	}
	if base == "" {
		base = "article"
	}
	return base + "-" + suffix
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLength]
}
