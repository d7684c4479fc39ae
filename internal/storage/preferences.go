package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DeafMist/news-radar/backend/internal/models"
)

// Preferences returns the feed preferences of a user. A user without a row
// gets empty preference sets.
func (d *DB) Preferences(ctx context.Context, userID int64) (models.UserPreference, error) {
	pref := models.UserPreference{UserID: userID}

	var sources, categories, authors string
	err := d.db.QueryRowContext(ctx, `
		SELECT preferred_sources, preferred_categories, preferred_authors
		FROM user_preferences WHERE user_id = ?`, userID).Scan(&sources, &categories, &authors)
	if err != nil {
		err = translate(err)
		if errors.Is(err, ErrNotFound) {
			return pref, nil
		}
		return pref, fmt.Errorf("load preferences for user %d: %w", userID, err)
	}

	for _, f := range []struct {
		raw  string
		dest *[]int64
	}{
		{sources, &pref.PreferredSources},
		{categories, &pref.PreferredCategories},
		{authors, &pref.PreferredAuthors},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return pref, fmt.Errorf("decode preferences for user %d: %w", userID, err)
		}
	}
	return pref, nil
}

// SavePreferences replaces the preference sets of a user. The pipeline never
// calls it.
func (d *DB) SavePreferences(ctx context.Context, pref models.UserPreference) error {
	encode := func(ids []int64) string {
		if len(ids) == 0 {
			return "[]"
		}
		b, _ := json.Marshal(ids)
		return string(b)
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, preferred_sources, preferred_categories, preferred_authors)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			preferred_sources = excluded.preferred_sources,
			preferred_categories = excluded.preferred_categories,
			preferred_authors = excluded.preferred_authors,
			updated_at = CURRENT_TIMESTAMP`,
		pref.UserID, encode(pref.PreferredSources), encode(pref.PreferredCategories), encode(pref.PreferredAuthors))
	if err != nil {
		return fmt.Errorf("save preferences for user %d: %w", pref.UserID, translate(err))
	}
	return nil
}
