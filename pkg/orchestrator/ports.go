package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/contrib-harvester/pkg/client"
	"github.com/Sternrassler/contrib-harvester/pkg/window"
)

// ChunkExecutor runs one chunk to a terminal result. client.RetryPolicy
// implements it.
type ChunkExecutor interface {
	Execute(ctx context.Context, task client.FetchTask) client.ChunkResult
}

// Sink persists the results of one entity. Implementations must make the
// batch atomic and idempotent per (entity, kind).
type Sink interface {
	Persist(ctx context.Context, batch EntityBatch) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, batch EntityBatch) error

// Persist implements Sink.
func (f SinkFunc) Persist(ctx context.Context, batch EntityBatch) error {
	return f(ctx, batch)
}

// Marker records entities whose complete batch every sink accepted, so a
// later run can skip them.
type Marker interface {
	MarkProcessed(ctx context.Context, entityID string) error
}

// ProgressSink is told about every finished entity.
type ProgressSink interface {
	EntityDone(entityID string, results []FetchResult)
}

// ProgressFunc adapts a function to the ProgressSink interface.
type ProgressFunc func(entityID string, results []FetchResult)

// EntityDone implements ProgressSink.
func (f ProgressFunc) EntityDone(entityID string, results []FetchResult) {
	f(entityID, results)
}

// ChunkCache remembers the items of chunks fetched by earlier runs.
// A cache error is treated as a miss.
type ChunkCache interface {
	Get(ctx context.Context, entityID string, kind window.Kind, chunk window.Interval) (items []string, ok bool, err error)
	Set(ctx context.Context, entityID string, kind window.Kind, chunk window.Interval, items []string) error
}

type multiSink []Sink

// MultiSink persists every batch to each sink in order. All sinks are
// tried; their errors are joined.
func MultiSink(sinks ...Sink) Sink {
	var ms multiSink
	for _, s := range sinks {
		if s != nil {
			ms = append(ms, s)
		}
	}
	return ms
}

// Persist implements Sink.
func (ms multiSink) Persist(ctx context.Context, batch EntityBatch) error {
	var errs []error
	for i, s := range ms {
		if err := s.Persist(ctx, batch); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
