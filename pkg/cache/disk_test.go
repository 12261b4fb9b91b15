package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/contrib-harvester/pkg/window"
)

func openTestDisk(t *testing.T, path string) *DiskStore {
	t.Helper()

	store, err := OpenDisk(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenDisk() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDiskStore_SetGet(t *testing.T) {
	store := openTestDisk(t, t.TempDir())
	ctx := context.Background()

	key := NewChunkKey("octocat", window.KindBefore, testChunk(2018))
	if err := store.Set(ctx, key, NewEntry([]string{"a/one"}, time.Hour)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Items) != 1 || got.Items[0] != "a/one" {
		t.Errorf("Items = %v, want [a/one]", got.Items)
	}
}

func TestDiskStore_Miss(t *testing.T) {
	store := openTestDisk(t, t.TempDir())

	_, err := store.Get(context.Background(), NewChunkKey("nobody", window.KindAfter, testChunk(2020)))
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestDiskStore_ExpiredEntryIsDropped(t *testing.T) {
	store := openTestDisk(t, t.TempDir())
	ctx := context.Background()

	key := NewChunkKey("octocat", window.KindBefore, testChunk(2018))
	if err := store.Set(ctx, key, NewEntry([]string{"x"}, 50*time.Millisecond)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	time.Sleep(80 * time.Millisecond)

	if _, err := store.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if n, _ := store.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0 after expired read", n)
	}
}

func TestDiskStore_DeleteAndInvalidate(t *testing.T) {
	store := openTestDisk(t, t.TempDir())
	ctx := context.Background()

	for _, year := range []int{2016, 2017, 2018} {
		key := NewChunkKey("octocat", window.KindAfter, testChunk(year))
		if err := store.Set(ctx, key, NewEntry([]string{"x"}, time.Hour)); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	other := NewChunkKey("hubot", window.KindAfter, testChunk(2018))
	if err := store.Set(ctx, other, NewEntry([]string{"y"}, time.Hour)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Delete(ctx, NewChunkKey("octocat", window.KindAfter, testChunk(2016))); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	removed, err := store.Invalidate(ctx, "octocat")
	if err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Invalidate() removed = %d, want 2", removed)
	}
	if n, _ := store.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestDiskStore_Purge(t *testing.T) {
	store := openTestDisk(t, t.TempDir())
	ctx := context.Background()

	if err := store.Set(ctx, NewChunkKey("a", window.KindBefore, testChunk(2018)), NewEntry([]string{"x"}, 30*time.Millisecond)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, NewChunkKey("b", window.KindBefore, testChunk(2018)), NewEntry([]string{"y"}, time.Hour)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	purged, err := store.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if purged != 1 {
		t.Errorf("Purge() = %d, want 1", purged)
	}
	if n, _ := store.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestDiskStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	key := NewChunkKey("octocat", window.KindBefore, testChunk(2018))

	first, err := OpenDisk(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenDisk() error = %v", err)
	}
	if err := first.Set(ctx, key, NewEntry([]string{"kept"}, time.Hour)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second := openTestDisk(t, dir)
	got, err := second.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if len(got.Items) != 1 || got.Items[0] != "kept" {
		t.Errorf("Items = %v, want [kept]", got.Items)
	}
}

func TestDiskStore_Close(t *testing.T) {
	store, err := OpenDisk(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenDisk() error = %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	err = store.Set(context.Background(), ChunkKey{EntityID: "x"}, NewEntry([]string{"x"}, time.Hour))
	if err == nil {
		t.Error("Set() after Close should fail")
	}
}
