package storage

import (
	"context"
	"fmt"

	"github.com/DeafMist/news-radar/backend/internal/models"
)

const categoryColumns = `id, name, slug, COALESCE(description, ''), is_active`

// CategoryBySlug looks a category up by its slug.
func (d *DB) CategoryBySlug(ctx context.Context, slug string) (models.Category, error) {
	var c models.Category
	err := d.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE slug = ?`, slug).
		Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.IsActive)
	if err != nil {
		return models.Category{}, fmt.Errorf("find category %q: %w", slug, translate(err))
	}
	return c, nil
}

// UpsertCategory inserts a category or refreshes the row with the same slug.
func (d *DB) UpsertCategory(ctx context.Context, c models.Category) (models.Category, error) {
	var saved models.Category
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO categories (name, slug, description, is_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			is_active = excluded.is_active
		RETURNING `+categoryColumns,
		c.Name, c.Slug, nullString(c.Description), c.IsActive).
		Scan(&saved.ID, &saved.Name, &saved.Slug, &saved.Description, &saved.IsActive)
	if err != nil {
		return models.Category{}, fmt.Errorf("upsert category %q: %w", c.Slug, translate(err))
	}
	return saved, nil
}

// ActiveCategories lists the enabled categories by name.
func (d *DB) ActiveCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE is_active = 1 ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", translate(err))
	}
	defer rows.Close()

	out := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.IsActive); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// categoriesByArticle groups the categories attached to each article id.
func (d *DB) categoriesByArticle(ctx context.Context, articleIDs []int64) (map[int64][]models.Category, error) {
	out := make(map[int64][]models.Category, len(articleIDs))
	if len(articleIDs) == 0 {
		return out, nil
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT ac.article_id, c.id, c.name, c.slug, COALESCE(c.description, ''), c.is_active
		FROM article_categories ac
		JOIN categories c ON c.id = ac.category_id
		WHERE ac.article_id IN (`+placeholders(len(articleIDs))+`)
		ORDER BY c.name`, int64Args(articleIDs)...)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", translate(err))
	}
	defer rows.Close()

	for rows.Next() {
		var articleID int64
		var c models.Category
		if err := rows.Scan(&articleID, &c.ID, &c.Name, &c.Slug, &c.Description, &c.IsActive); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out[articleID] = append(out[articleID], c)
	}
	return out, rows.Err()
}
