package seed_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-radar/backend/internal/seed"
	"github.com/DeafMist/news-radar/backend/internal/sources"
	"github.com/DeafMist/news-radar/backend/internal/storage"
)

func TestDefaultDocument(t *testing.T) {
	doc, err := seed.Default()
	require.NoError(t, err)
	require.Len(t, doc.Sources, 5)
	require.Len(t, doc.Categories, 10)

	for _, s := range doc.Sources {
		require.True(t, sources.Known(s.APIIdentifier), "seeded source %q has a client", s.APIIdentifier)
	}

	require.Equal(t, "technology", doc.Categories[0].Slug)
	require.Equal(t, "News about Technology", doc.Categories[0].Description)
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	for name, body := range map[string]string{
		"missing identifier": "sources:\n  - name: X\n",
		"duplicate source":   "sources:\n  - {name: A, api_identifier: a}\n  - {name: B, api_identifier: a}\n",
		"duplicate category": "categories:\n  - name: World\n  - name: world\n",
		"unknown field":      "sources:\n  - {name: A, api_identifier: a, colour: red}\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := seed.Parse(strings.NewReader(body))
			require.Error(t, err)
		})
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(filepath.Join(t.TempDir(), "news.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	doc, err := seed.Default()
	require.NoError(t, err)

	res, err := seed.Apply(ctx, db, doc)
	require.NoError(t, err)
	require.Equal(t, seed.Result{Sources: 5, Categories: 10}, res)

	first, err := db.SourceByAPIIdentifier(ctx, "the-guardian")
	require.NoError(t, err)

	_, err = seed.Apply(ctx, db, doc)
	require.NoError(t, err)

	again, err := db.SourceByAPIIdentifier(ctx, "the-guardian")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.True(t, again.IsActive)

	cat, err := db.CategoryBySlug(ctx, "environment")
	require.NoError(t, err)
	require.Equal(t, "Environment", cat.Name)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - name: Local Wire
    api_identifier: newsapi
    inactive: true
categories:
  - name: General
`), 0o600))

	doc, err := seed.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "newsapi", doc.Sources[0].Slug)
	require.True(t, doc.Sources[0].Inactive)
	require.Equal(t, "general", doc.Categories[0].Slug)

	_, err = seed.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
