// Package resolver maps raw author and category strings to stored identities.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/DeafMist/news-radar/backend/internal/models"
	"github.com/DeafMist/news-radar/backend/internal/processing"
	"github.com/DeafMist/news-radar/backend/internal/storage"
)

// Store is the persistence surface the resolver needs.
type Store interface {
	FindOrCreateAuthor(ctx context.Context, name, email string) (models.Author, error)
	CategoryBySlug(ctx context.Context, slug string) (models.Category, error)
}

// Resolver resolves authors (find-or-create) and categories (lookup only).
type Resolver struct {
	store Store
}

func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveAuthor returns the author for the exact (name, email) pair, creating
// it on first sight. A blank name resolves to nil.
func (r *Resolver) ResolveAuthor(ctx context.Context, name, email string) (*models.Author, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	author, err := r.store.FindOrCreateAuthor(ctx, name, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("resolve author %q: %w", name, err)
	}
	return &author, nil
}

// ResolveCategory slugifies label and returns the matching category, or nil
// when no category has that slug. Categories are never created here.
func (r *Resolver) ResolveCategory(ctx context.Context, label string) (*models.Category, error) {
	slug := processing.Slugify(label)
	if slug == "" {
		return nil, nil
	}
	category, err := r.store.CategoryBySlug(ctx, slug)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve category %q: %w", label, err)
	}
	return &category, nil
}
