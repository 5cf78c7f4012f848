package sync

import (
	"context"
	"sync"
	"time"

	"github.com/tunesyncd/tunesyncd/internal/store"
)

// catalogCacheTTL bounds how stale the browsing projections may get when no
// sync invalidates them first.
const catalogCacheTTL = 5 * time.Minute

// CatalogCache serves the catalog browsing endpoints from memory, refreshed
// on sync completion and on demand after the TTL.
type CatalogCache struct {
	store Store

	mu        sync.Mutex
	songs     []*store.CatalogSong
	artists   []*store.CatalogArtist
	albums    []*store.CatalogAlbum
	fetchedAt time.Time
}

// NewCatalogCache creates an empty cache over the store.
func NewCatalogCache(st Store) *CatalogCache {
	return &CatalogCache{store: st}
}

// Invalidate drops the cached projections so the next read refreshes.
func (c *CatalogCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fetchedAt = time.Time{}
}

// Songs returns the cached song projection.
func (c *CatalogCache) Songs(ctx context.Context) ([]*store.CatalogSong, error) {
	if err := c.refreshIfStale(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.songs, nil
}

// Artists returns the cached artist projection.
func (c *CatalogCache) Artists(ctx context.Context) ([]*store.CatalogArtist, error) {
	if err := c.refreshIfStale(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.artists, nil
}

// Albums returns the cached album projection.
func (c *CatalogCache) Albums(ctx context.Context) ([]*store.CatalogAlbum, error) {
	if err := c.refreshIfStale(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.albums, nil
}

// refreshIfStale reloads all three projections when the cache is older than
// the TTL or was invalidated.
func (c *CatalogCache) refreshIfStale(ctx context.Context) error {
	c.mu.Lock()
	fresh := !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < catalogCacheTTL
	c.mu.Unlock()

	if fresh {
		return nil
	}

	songs, err := c.store.FetchSongs(ctx)
	if err != nil {
		return err
	}

	artists, err := c.store.FetchArtists(ctx)
	if err != nil {
		return err
	}

	albums, err := c.store.FetchAlbums(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.songs, c.artists, c.albums = songs, artists, albums
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return nil
}
