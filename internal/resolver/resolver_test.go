package resolver_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DeafMist/news-radar/backend/internal/models"
	"github.com/DeafMist/news-radar/backend/internal/resolver"
	"github.com/DeafMist/news-radar/backend/internal/storage"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "news.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestResolveAuthorStableAcrossCalls(t *testing.T) {
	db := newStore(t)
	r := resolver.New(db)
	ctx := context.Background()

	a1, err := r.ResolveAuthor(ctx, "Jane Doe", "")
	require.NoError(t, err)
	a2, err := r.ResolveAuthor(ctx, "  Jane Doe ", "")
	require.NoError(t, err)
	require.Equal(t, a1.ID, a2.ID)

	other, err := r.ResolveAuthor(ctx, "Jane Doe", "jane@example.com")
	require.NoError(t, err)
	require.NotEqual(t, a1.ID, other.ID)

	blank, err := r.ResolveAuthor(ctx, "   ", "")
	require.NoError(t, err)
	require.Nil(t, blank)
}

func TestResolveAuthorConcurrentSameKey(t *testing.T) {
	db := newStore(t)
	r := resolver.New(db)
	ctx := context.Background()

	const workers = 8
	ids := make(chan int64, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := r.ResolveAuthor(ctx, "The Guardian", "")
			if err == nil {
				ids <- a.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	var got []int64
	for id := range ids {
		got = append(got, id)
	}
	require.Len(t, got, workers)
	for _, id := range got {
		require.Equal(t, got[0], id)
	}

	n, err := db.CountAuthors(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestResolveCategory(t *testing.T) {
	db := newStore(t)
	r := resolver.New(db)
	ctx := context.Background()

	world, err := db.UpsertCategory(ctx, models.Category{Name: "World News", Slug: "world-news", IsActive: true})
	require.NoError(t, err)

	got, err := r.ResolveCategory(ctx, "World  News")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, world.ID, got.ID)

	missing, err := r.ResolveCategory(ctx, "Astrology")
	require.NoError(t, err)
	require.Nil(t, missing)

	empty, err := r.ResolveCategory(ctx, "")
	require.NoError(t, err)
	require.Nil(t, empty)
}

type failingStore struct{ err error }

func (s failingStore) FindOrCreateAuthor(context.Context, string, string) (models.Author, error) {
	return models.Author{}, s.err
}

func (s failingStore) CategoryBySlug(context.Context, string) (models.Category, error) {
	return models.Category{}, s.err
}

func TestResolverPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	r := resolver.New(failingStore{err: boom})

	_, err := r.ResolveAuthor(context.Background(), "Jane", "")
	require.ErrorIs(t, err, boom)

	_, err = r.ResolveCategory(context.Background(), "Politics")
	require.ErrorIs(t, err, boom)
}
