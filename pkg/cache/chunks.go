package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/contrib-harvester/pkg/window"
)

// DefaultChunkTTL keeps fetched chunks for a week.
const DefaultChunkTTL = 7 * 24 * time.Hour

// Store is a chunk entry backend. Manager and DiskStore implement it.
type Store interface {
	Get(ctx context.Context, key ChunkKey) (*Entry, error)
	Set(ctx context.Context, key ChunkKey, entry *Entry) error
}

// ChunkCache lets a run skip chunks fetched by an earlier run. Only chunks
// that lie entirely in the past are stored, since a window still open may
// gain data later.
type ChunkCache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewChunkCache wraps store. A non-positive ttl uses DefaultChunkTTL.
func NewChunkCache(store Store, ttl time.Duration) *ChunkCache {
	if ttl <= 0 {
		ttl = DefaultChunkTTL
	}
	return &ChunkCache{store: store, ttl: ttl, now: time.Now}
}

// Get returns the cached items of a chunk.
func (c *ChunkCache) Get(ctx context.Context, entityID string, kind window.Kind, chunk window.Interval) ([]string, bool, error) {
	entry, err := c.store.Get(ctx, NewChunkKey(entityID, kind, chunk))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Items, true, nil
}

// Set stores the items of a finished chunk.
func (c *ChunkCache) Set(ctx context.Context, entityID string, kind window.Kind, chunk window.Interval, items []string) error {
	if chunk.End.After(c.now()) {
		return nil
	}
	if items == nil {
		items = []string{}
	}
	return c.store.Set(ctx, NewChunkKey(entityID, kind, chunk), NewEntry(items, c.ttl))
}
