package orchestrator

import (
	"time"

	"github.com/Sternrassler/contrib-harvester/pkg/window"
)

// Status is the terminal state of one (entity, kind) result.
type Status string

const (
	// StatusOK means every chunk succeeded.
	StatusOK Status = "ok"

	// StatusPartial means some chunks failed and at least one succeeded.
	StatusPartial Status = "partial"

	// StatusFailed means every chunk failed.
	StatusFailed Status = "failed"

	// StatusNotFound means the entity does not exist.
	StatusNotFound Status = "not_found"
)

// Statuses lists all statuses in display order.
var Statuses = []Status{StatusOK, StatusPartial, StatusFailed, StatusNotFound}

// FetchResult is the outcome of one (entity, kind) group.
type FetchResult struct {
	EntityID string
	Kind     window.Kind

	// WindowStart and WindowEnd span every merged interval of the group.
	WindowStart time.Time
	WindowEnd   time.Time

	// Items is the sorted, de-duplicated union of all successful chunks.
	Items  []string
	Status Status

	Intervals    []window.Interval
	Chunks       int
	FailedChunks int

	// Error is the last failure reason among failed chunks.
	Error error

	// PersistErr is set when the entity's batch could not be persisted.
	PersistErr error
}

// NeedsRetry reports whether a later run should revisit this result.
func (r FetchResult) NeedsRetry() bool {
	return r.Status == StatusPartial || r.Status == StatusFailed || r.PersistErr != nil
}

// EntityBatch is everything persisted for one entity, in one transaction.
type EntityBatch struct {
	EntityID string

	// Results excludes failed results so stored data is never overwritten
	// with nothing.
	Results []FetchResult

	// Complete is true when every result of the entity is ok or not_found.
	Complete bool
}

func newBatch(entityID string, results []FetchResult) EntityBatch {
	b := EntityBatch{EntityID: entityID, Complete: true}
	for _, r := range results {
		if r.Status != StatusOK && r.Status != StatusNotFound {
			b.Complete = false
		}
		if r.Status != StatusFailed {
			b.Results = append(b.Results, r)
		}
	}
	return b
}
