package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/DeafMist/news-radar/backend/internal/models"
)

// FindOrCreateAuthor returns the author with exactly this (name, email) pair,
// creating it on first sight. Concurrent callers racing on the same pair
// converge on a single row: the insert is a no-op for the loser, which then
// reads the winner's row.
func (d *DB) FindOrCreateAuthor(ctx context.Context, name, email string) (models.Author, error) {
	if strings.TrimSpace(name) == "" {
		return models.Author{}, fmt.Errorf("find or create author: %w: empty name", ErrConstraint)
	}

	author, err := d.findAuthor(ctx, name, email)
	if err == nil {
		return author, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Author{}, err
	}

	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO authors (name, email) VALUES (?, ?) ON CONFLICT(name, email) DO NOTHING`,
		name, email); err != nil {
		return models.Author{}, fmt.Errorf("create author %q: %w", name, translate(err))
	}

	return d.findAuthor(ctx, name, email)
}

func (d *DB) findAuthor(ctx context.Context, name, email string) (models.Author, error) {
	var a models.Author
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, email FROM authors WHERE name = ? AND email = ?`, name, email).
		Scan(&a.ID, &a.Name, &a.Email)
	if err != nil {
		return models.Author{}, fmt.Errorf("find author %q: %w", name, translate(err))
	}
	return a, nil
}

// CountAuthors returns the number of author rows.
func (d *DB) CountAuthors(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM authors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count authors: %w", translate(err))
	}
	return n, nil
}

// AuthorPage is one page of the author listing.
type AuthorPage struct {
	Items    []models.Author `json:"data"`
	Total    int             `json:"total"`
	Page     int             `json:"current_page"`
	PerPage  int             `json:"per_page"`
	LastPage int             `json:"last_page"`
}

// Authors pages through every author ordered by name.
func (d *DB) Authors(ctx context.Context, page, perPage int) (AuthorPage, error) {
	if perPage == 0 {
		perPage = DefaultPerPage
	}
	if perPage < 1 || perPage > MaxPerPage {
		return AuthorPage{}, fmt.Errorf("%w: per_page must be between 1 and %d", ErrInvalidQuery, MaxPerPage)
	}
	if page <= 0 {
		page = 1
	}

	out := AuthorPage{Items: []models.Author{}, Page: page, PerPage: perPage}
	n, err := d.CountAuthors(ctx)
	if err != nil {
		return AuthorPage{}, err
	}
	out.Total = n
	out.LastPage = max(1, (n+perPage-1)/perPage)

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, email FROM authors ORDER BY name, id LIMIT ? OFFSET ?`, perPage, (page-1)*perPage)
	if err != nil {
		return AuthorPage{}, fmt.Errorf("list authors: %w", translate(err))
	}
	defer rows.Close()

	for rows.Next() {
		var a models.Author
		if err := rows.Scan(&a.ID, &a.Name, &a.Email); err != nil {
			return AuthorPage{}, fmt.Errorf("scan author: %w", err)
		}
		out.Items = append(out.Items, a)
	}
	return out, rows.Err()
}

func (d *DB) authorsByID(ctx context.Context, ids []int64) (map[int64]models.Author, error) {
	out := make(map[int64]models.Author, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, email FROM authors WHERE id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("load authors: %w", translate(err))
	}
	defer rows.Close()

	for rows.Next() {
		var a models.Author
		if err := rows.Scan(&a.ID, &a.Name, &a.Email); err != nil {
			return nil, fmt.Errorf("scan author: %w", err)
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}
