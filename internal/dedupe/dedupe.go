// Package dedupe decides whether a normalized article was already stored.
package dedupe

import (
	"context"
	"fmt"
	"strings"
)

// URLLookup is the storage-side existence check, backed by the unique index
// on articles.url.
type URLLookup interface {
	ExistsByURL(ctx context.Context, url string) (bool, error)
}

// Deduplicator answers exists(url) from the recent-URL cache first and the
// store second. The answer is advisory; the unique constraint on the store is
// what actually prevents duplicates.
type Deduplicator struct {
	cache  *Cache
	lookup URLLookup
}

// New builds a Deduplicator. cache may be nil.
func New(cache *Cache, lookup URLLookup) *Deduplicator {
	return &Deduplicator{cache: cache, lookup: lookup}
}

// Exists reports whether an article with url is already stored. An empty url
// is never reported as existing so the write can fail on its own constraint.
func (d *Deduplicator) Exists(ctx context.Context, url string) (bool, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return false, nil
	}
	if d.cache != nil && d.cache.Contains(url) {
		return true, nil
	}

	exists, err := d.lookup.ExistsByURL(ctx, url)
	if err != nil {
		return false, fmt.Errorf("lookup url: %w", err)
	}
	if exists {
		d.Remember(url)
	}
	return exists, nil
}

// Remember marks url as stored, typically right after a successful commit or
// a duplicate-key rejection.
func (d *Deduplicator) Remember(url string) {
	url = strings.TrimSpace(url)
	if d.cache == nil || url == "" {
		return
	}
	d.cache.Mark(url)
}
