package dedupe_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DeafMist/news-radar/backend/internal/dedupe"
	"github.com/stretchr/testify/require"
)

type stubLookup struct {
	stored map[string]bool
	calls  int
	err    error
}

func (s *stubLookup) ExistsByURL(_ context.Context, url string) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.stored[url], nil
}

func TestDeduplicatorConsultsStoreThenCache(t *testing.T) {
	lookup := &stubLookup{stored: map[string]bool{"https://x/1": true}}
	d := dedupe.New(dedupe.NewCache(10, time.Hour), lookup)

	exists, err := d.Exists(context.Background(), "https://x/1")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, 1, lookup.calls)

	exists, err = d.Exists(context.Background(), "https://x/1")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, 1, lookup.calls, "second check should be served by the cache")
}

func TestDeduplicatorNewURL(t *testing.T) {
	lookup := &stubLookup{stored: map[string]bool{}}
	d := dedupe.New(nil, lookup)

	exists, err := d.Exists(context.Background(), "https://x/new")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestDeduplicatorEmptyURLSkipsLookup(t *testing.T) {
	lookup := &stubLookup{}
	d := dedupe.New(dedupe.NewCache(10, time.Hour), lookup)

	exists, err := d.Exists(context.Background(), "   ")
	require.NoError(t, err)
	require.False(t, exists)
	require.Zero(t, lookup.calls)
}

func TestDeduplicatorRemember(t *testing.T) {
	lookup := &stubLookup{stored: map[string]bool{}}
	d := dedupe.New(dedupe.NewCache(10, time.Hour), lookup)

	d.Remember("https://x/9")
	exists, err := d.Exists(context.Background(), "https://x/9")
	require.NoError(t, err)
	require.True(t, exists)
	require.Zero(t, lookup.calls)
}

func TestDeduplicatorPropagatesLookupError(t *testing.T) {
	boom := errors.New("database is locked")
	d := dedupe.New(nil, &stubLookup{err: boom})

	_, err := d.Exists(context.Background(), "https://x/1")
	require.ErrorIs(t, err, boom)
}
