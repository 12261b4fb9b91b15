// Package store holds what the persistence sinks share: the row layout of
// a stored window and the interface the CLI programs against.
//
// Every backend writes one transaction per entity. Rows are keyed by
// (entity_id, kind) and upserted, so re-running an entity overwrites its
// previous result instead of duplicating it. Entities whose every result
// is definitive are recorded as processed, once every sink accepted them,
// and can be skipped on the next run.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/contrib-harvester/pkg/orchestrator"
)

// Store is a persistence sink that remembers finished entities.
type Store interface {
	orchestrator.Sink
	orchestrator.Marker

	// Processed returns the IDs of entities recorded as complete.
	Processed(ctx context.Context) (map[string]bool, error)

	// Windows returns the stored rows of an entity, ordered by kind.
	Windows(ctx context.Context, entityID string) ([]Row, error)

	Close() error
}

// Row is one stored (entity, kind) window.
type Row struct {
	EntityID    string
	Kind        string
	WindowStart time.Time
	WindowEnd   time.Time

	// Items is the JSON array of the result's items.
	Items     string
	Status    string
	UpdatedAt time.Time
}

// DecodeItems parses the stored items.
func (r Row) DecodeItems() ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(r.Items), &items); err != nil {
		return nil, fmt.Errorf("decode items of %s/%s: %w", r.EntityID, r.Kind, err)
	}
	return items, nil
}

// Rows converts a batch into rows stamped with now.
func Rows(batch orchestrator.EntityBatch, now time.Time) ([]Row, error) {
	rows := make([]Row, 0, len(batch.Results))
	for _, r := range batch.Results {
		items := r.Items
		if items == nil {
			items = []string{}
		}
		data, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("encode items of %s/%s: %w", r.EntityID, r.Kind, err)
		}
		rows = append(rows, Row{
			EntityID:    r.EntityID,
			Kind:        string(r.Kind),
			WindowStart: r.WindowStart.UTC(),
			WindowEnd:   r.WindowEnd.UTC(),
			Items:       string(data),
			Status:      string(r.Status),
			UpdatedAt:   now.UTC(),
		})
	}
	return rows, nil
}
