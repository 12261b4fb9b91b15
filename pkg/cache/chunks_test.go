package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/contrib-harvester/pkg/window"
)

func TestChunkCache_RoundTrip(t *testing.T) {
	store := openTestDisk(t, t.TempDir())
	chunks := NewChunkCache(store, 0)
	ctx := context.Background()

	if chunks.ttl != DefaultChunkTTL {
		t.Errorf("ttl = %v, want %v", chunks.ttl, DefaultChunkTTL)
	}

	chunk := testChunk(2018)
	if _, ok, err := chunks.Get(ctx, "octocat", window.KindBefore, chunk); ok || err != nil {
		t.Fatalf("Get() on empty cache = (%v, %v), want (false, nil)", ok, err)
	}

	if err := chunks.Set(ctx, "octocat", window.KindBefore, chunk, []string{"a/one"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	items, ok, err := chunks.Get(ctx, "octocat", window.KindBefore, chunk)
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v), want hit", ok, err)
	}
	if len(items) != 1 || items[0] != "a/one" {
		t.Errorf("items = %v, want [a/one]", items)
	}

	if _, ok, _ := chunks.Get(ctx, "octocat", window.KindAfter, chunk); ok {
		t.Error("other kind should miss")
	}
}

func TestChunkCache_EmptyChunkIsCached(t *testing.T) {
	store := openTestDisk(t, t.TempDir())
	chunks := NewChunkCache(store, time.Hour)
	ctx := context.Background()

	chunk := testChunk(2015)
	if err := chunks.Set(ctx, "octocat", window.KindBefore, chunk, nil); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	items, ok, err := chunks.Get(ctx, "octocat", window.KindBefore, chunk)
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v), want hit", ok, err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("items = %#v, want empty non-nil slice", items)
	}
}

func TestChunkCache_OpenChunkIsNotCached(t *testing.T) {
	store := openTestDisk(t, t.TempDir())
	chunks := NewChunkCache(store, time.Hour)
	chunks.now = func() time.Time { return time.Date(2018, 6, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	if err := chunks.Set(ctx, "octocat", window.KindAfter, testChunk(2018), []string{"x"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if n, _ := store.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0 for a chunk that is still open", n)
	}
}
