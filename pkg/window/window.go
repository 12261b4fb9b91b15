// Package window plans the time windows fetched for each entity.
//
// Callers submit raw (entity, kind, window) requests. Plan groups them per
// (entity, kind), merges overlapping windows so no span is fetched twice,
// and Split cuts every merged window into chunks the upstream API accepts
// (at most one year each).
package window

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWindow is returned for a window whose end precedes its start.
var ErrInvalidWindow = errors.New("invalid window")

// Kind tells whether a window lies before or after the anchor event.
type Kind string

const (
	// KindBefore is the window leading up to the anchor event.
	KindBefore Kind = "before"

	// KindAfter is the window following the anchor event.
	KindAfter Kind = "after"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindBefore || k == KindAfter
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Contains reports whether other lies entirely inside iv.
func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

// String formats the interval as start→end dates.
func (iv Interval) String() string {
	return fmt.Sprintf("%s→%s", iv.Start.Format(time.DateOnly), iv.End.Format(time.DateOnly))
}

// Request asks for the data of one entity during one window.
type Request struct {
	EntityID string   `json:"entity_id" yaml:"entity_id"`
	Kind     Kind     `json:"kind" yaml:"kind"`
	Window   Interval `json:"window" yaml:"window"`
}

// Validate checks the request fields.
func (r Request) Validate() error {
	if r.EntityID == "" {
		return fmt.Errorf("%w: empty entity id", ErrInvalidWindow)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q for %s", ErrInvalidWindow, r.Kind, r.EntityID)
	}
	if r.Window.End.Before(r.Window.Start) {
		return fmt.Errorf("%w: %s ends before it starts (%s)", ErrInvalidWindow, r.EntityID, r.Window)
	}
	return nil
}

// DefaultSpan is the width of the before/after windows around an event.
const DefaultSpan = 2 * 365 * 24 * time.Hour

// Around derives the before and after windows of an anchor event lasting
// from start to end: [start-span, start] and [end, end+span].
func Around(start, end time.Time, span time.Duration) (before, after Interval) {
	before = Interval{Start: start.Add(-span), End: start}
	after = Interval{Start: end, End: end.Add(span)}
	return before, after
}

// RequestsAround builds the before and after requests for one entity.
func RequestsAround(entityID string, start, end time.Time, span time.Duration) []Request {
	before, after := Around(start, end, span)
	return []Request{
		{EntityID: entityID, Kind: KindBefore, Window: before},
		{EntityID: entityID, Kind: KindAfter, Window: after},
	}
}

// DayBounds widens iv to whole UTC days: since is the start date at midnight
// and until is midnight after the end date, so both ends are inclusive.
func DayBounds(iv Interval) (since, until time.Time) {
	s := iv.Start.UTC()
	e := iv.End.UTC()
	since = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
	until = time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return since, until
}
