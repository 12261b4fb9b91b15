package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const backendLevelDB = "leveldb"

// diskOp is a queued write. A non-nil flushed channel marks a barrier.
type diskOp struct {
	key     []byte
	data    []byte
	del     bool
	flushed chan struct{}
}

// DiskStore stores chunk entries in a local LevelDB database, for runs
// without Redis. Writes are applied by a single writer goroutine.
type DiskStore struct {
	db     *leveldb.DB
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	ops    chan diskOp
	done   chan struct{}
}

// OpenDisk opens (or creates) the database at path.
func OpenDisk(path string, logger zerolog.Logger) (*DiskStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	d := &DiskStore{
		db:     db,
		logger: logger.With().Str("component", "disk-cache").Logger(),
		ops:    make(chan diskOp, 1024),
		done:   make(chan struct{}),
	}
	go d.writerLoop()
	return d, nil
}

// Close flushes queued writes and closes the database.
func (d *DiskStore) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.ops)
	d.mu.Unlock()

	<-d.done
	return d.db.Close()
}

func (d *DiskStore) enqueue(op diskOp) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return leveldb.ErrClosed
	}
	d.ops <- op
	return nil
}

func (d *DiskStore) writerLoop() {
	defer close(d.done)

	for op := range d.ops {
		if op.flushed != nil {
			close(op.flushed)
			continue
		}
		batch := new(leveldb.Batch)
		if op.del {
			batch.Delete(op.key)
		} else {
			batch.Put(op.key, op.data)
		}
		if err := d.db.Write(batch, nil); err != nil {
			operation := "set"
			if op.del {
				operation = "delete"
			}
			CacheErrors.WithLabelValues(backendLevelDB, operation).Inc()
			d.logger.Warn().Err(err).Str("key", string(op.key)).Msg("Disk cache write failed")
		}
	}
}

// Flush waits until every write queued before the call is applied.
func (d *DiskStore) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	if err := d.enqueue(diskOp{flushed: flushed}); err != nil {
		return err
	}
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (d *DiskStore) Get(_ context.Context, key ChunkKey) (*Entry, error) {
	data, err := d.db.Get([]byte(key.String()), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			CacheMisses.WithLabelValues(backendLevelDB).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues(backendLevelDB, "get").Inc()
		return nil, fmt.Errorf("leveldb get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues(backendLevelDB, "get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = d.enqueue(diskOp{key: []byte(key.String()), del: true})
		CacheMisses.WithLabelValues(backendLevelDB).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(backendLevelDB).Inc()
	return &entry, nil
}

// Set queues an entry for writing. Expired entries are not stored.
func (d *DiskStore) Set(_ context.Context, key ChunkKey, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.TTL() <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues(backendLevelDB, "set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := d.enqueue(diskOp{key: []byte(key.String()), data: data}); err != nil {
		return err
	}
	CacheWrites.WithLabelValues(backendLevelDB).Inc()
	return nil
}

// Delete queues the removal of an entry.
func (d *DiskStore) Delete(_ context.Context, key ChunkKey) error {
	return d.enqueue(diskOp{key: []byte(key.String()), del: true})
}

// Invalidate removes every cached chunk of an entity.
func (d *DiskStore) Invalidate(_ context.Context, entityID string) (int, error) {
	it := d.db.NewIterator(util.BytesPrefix([]byte(EntityPrefix(entityID))), nil)
	defer it.Release()

	batch := new(leveldb.Batch)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	if err := it.Error(); err != nil {
		return 0, fmt.Errorf("leveldb iterate: %w", err)
	}
	if err := d.db.Write(batch, nil); err != nil {
		CacheErrors.WithLabelValues(backendLevelDB, "delete").Inc()
		return 0, fmt.Errorf("leveldb write: %w", err)
	}
	return batch.Len(), nil
}

// Purge removes every expired entry and returns how many were dropped.
func (d *DiskStore) Purge(_ context.Context) (int, error) {
	it := d.db.NewIterator(util.BytesPrefix([]byte(KeyPrefix)), nil)
	defer it.Release()

	batch := new(leveldb.Batch)
	for it.Next() {
		var entry Entry
		if err := json.Unmarshal(it.Value(), &entry); err != nil || entry.IsExpired() {
			batch.Delete(append([]byte(nil), it.Key()...))
		}
	}
	if err := it.Error(); err != nil {
		return 0, fmt.Errorf("leveldb iterate: %w", err)
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := d.db.Write(batch, nil); err != nil {
		CacheErrors.WithLabelValues(backendLevelDB, "delete").Inc()
		return 0, fmt.Errorf("leveldb write: %w", err)
	}

	d.logger.Info().Int("purged", batch.Len()).Msg("Purged expired chunk entries")
	return batch.Len(), nil
}

// Len returns the number of stored entries.
func (d *DiskStore) Len() (int, error) {
	it := d.db.NewIterator(util.BytesPrefix([]byte(KeyPrefix)), nil)
	defer it.Release()

	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}
