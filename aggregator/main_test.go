package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-radar/backend/internal/aggregator"
	"github.com/DeafMist/news-radar/backend/internal/logger"
	"github.com/DeafMist/news-radar/backend/internal/storage"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "news.db")
	t.Setenv("DATABASE_PATH", path)
	for _, key := range []string{
		"ELASTICSEARCH_ADDR", "KAFKA_BROKERS", "PROVIDERS",
		"NEWSAPI_API_KEY", "GUARDIAN_API_KEY", "NYTIMES_API_KEY", "OPENNEWS_API_KEY",
	} {
		t.Setenv(key, "")
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(logger.Discard())
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunPrintsStats(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "run")
	require.NoError(t, err)

	var stats aggregator.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.NotEmpty(t, stats.RunID)
	require.Zero(t, stats.Fetched)
	require.Zero(t, stats.Errors)
}

func TestSeedDefaultDocument(t *testing.T) {
	path := setupEnv(t)

	out, err := execute(t, "seed")
	require.NoError(t, err)
	require.Contains(t, out, "seeded 5 sources, 10 categories")

	db, err := storage.Open(path, nil)
	require.NoError(t, err)
	defer db.Close()

	src, err := db.SourceByAPIIdentifier(context.Background(), "the-guardian")
	require.NoError(t, err)
	require.True(t, src.IsActive)

	_, err = execute(t, "seed")
	require.NoError(t, err, "seeding twice is an upsert")
}

func TestSeedFromFile(t *testing.T) {
	path := setupEnv(t)
	file := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
sources:
  - name: Local Wire
    slug: local-wire
    api_identifier: local-wire
categories:
  - name: Weather
    slug: weather
`), 0o600))

	out, err := execute(t, "seed", "--file", file)
	require.NoError(t, err)
	require.Contains(t, out, "seeded 1 sources, 1 categories")

	db, err := storage.Open(path, nil)
	require.NoError(t, err)
	defer db.Close()

	cat, err := db.CategoryBySlug(context.Background(), "weather")
	require.NoError(t, err)
	require.Equal(t, "Weather", cat.Name)
}

func TestSeedRejectsMissingFile(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "seed", "--file", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestMigrate(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "schema at 3 migrations")
}
