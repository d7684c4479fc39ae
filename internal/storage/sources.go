package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DeafMist/news-radar/backend/internal/models"
)

const sourceColumns = `id, name, slug, api_identifier, COALESCE(url, ''), COALESCE(description, ''), is_active`

// SourceByAPIIdentifier returns the source mapped to a provider identifier.
func (d *DB) SourceByAPIIdentifier(ctx context.Context, apiIdentifier string) (models.Source, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE api_identifier = ?`, apiIdentifier)
	src, err := scanSource(row)
	if err != nil {
		return models.Source{}, fmt.Errorf("find source %q: %w", apiIdentifier, translate(err))
	}
	return src, nil
}

// UpsertSource inserts a source or refreshes the row with the same api identifier.
func (d *DB) UpsertSource(ctx context.Context, src models.Source) (models.Source, error) {
	row := d.db.QueryRowContext(ctx, `
		INSERT INTO sources (name, slug, api_identifier, url, description, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(api_identifier) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			url = excluded.url,
			description = excluded.description,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
		RETURNING `+sourceColumns,
		src.Name, src.Slug, src.APIIdentifier, nullString(src.URL), nullString(src.Description), src.IsActive)

	saved, err := scanSource(row)
	if err != nil {
		return models.Source{}, fmt.Errorf("upsert source %q: %w", src.APIIdentifier, translate(err))
	}
	return saved, nil
}

// ActiveSources lists the enabled sources by name.
func (d *DB) ActiveSources(ctx context.Context) ([]models.Source, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE is_active = 1 ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", translate(err))
	}
	defer rows.Close()

	out := []models.Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (d *DB) sourcesByID(ctx context.Context, ids []int64) (map[int64]models.Source, error) {
	out := make(map[int64]models.Source, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", translate(err))
	}
	defer rows.Close()

	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out[src.ID] = src
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (models.Source, error) {
	var src models.Source
	err := row.Scan(&src.ID, &src.Name, &src.Slug, &src.APIIdentifier, &src.URL, &src.Description, &src.IsActive)
	return src, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
