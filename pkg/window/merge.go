package window

import (
	"errors"
	"sort"
	"time"
)

// Group holds the merged windows of one (entity, kind) pair.
type Group struct {
	EntityID string
	Kind     Kind
	// Merged is the minimal set of disjoint intervals covering every
	// requested window, ordered by start.
	Merged []Interval
}

// Span returns the earliest start and latest end across the merged windows.
func (g Group) Span() Interval {
	if len(g.Merged) == 0 {
		return Interval{}
	}
	return Interval{Start: g.Merged[0].Start, End: g.Merged[len(g.Merged)-1].End}
}

// Chunks splits every merged window into API-sized chunks, in order.
func (g Group) Chunks() []Interval {
	var chunks []Interval
	for _, iv := range g.Merged {
		chunks = append(chunks, Split(iv)...)
	}
	return chunks
}

// MergeIntervals returns the minimal set of disjoint intervals whose union
// equals the union of the input. Intervals that touch (next start equal to
// the current end) are merged too. The input slice is not modified.
func MergeIntervals(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		switch {
		case iv.Start.After(last.End):
			merged = append(merged, iv)
		case !last.Contains(iv):
			last.End = iv.End
		}
	}
	return merged
}

type groupKey struct {
	entity string
	kind   Kind
}

// Plan groups requests by (entity, kind) and merges each group's windows.
// Groups come out in first-seen entity order, before ahead of after.
// Invalid requests are skipped and reported together in the returned error;
// the valid groups are still returned.
func Plan(requests []Request) ([]Group, error) {
	var (
		order   []string
		seen    = make(map[string]bool)
		windows = make(map[groupKey][]Interval)
		errs    []error
	)

	for _, r := range requests {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if !seen[r.EntityID] {
			seen[r.EntityID] = true
			order = append(order, r.EntityID)
		}
		k := groupKey{entity: r.EntityID, kind: r.Kind}
		windows[k] = append(windows[k], r.Window)
	}

	groups := make([]Group, 0, len(windows))
	for _, entity := range order {
		for _, kind := range []Kind{KindBefore, KindAfter} {
			ivs, ok := windows[groupKey{entity: entity, kind: kind}]
			if !ok {
				continue
			}
			groups = append(groups, Group{
				EntityID: entity,
				Kind:     kind,
				Merged:   MergeIntervals(ivs),
			})
		}
	}

	return groups, errors.Join(errs...)
}

// Split cuts iv into consecutive chunks of at most one year. Chunk
// boundaries step from the interval start with AddYears, not from calendar
// year boundaries; the last chunk ends exactly at iv.End. An empty interval
// yields no chunks.
func Split(iv Interval) []Interval {
	var chunks []Interval
	for ptr := iv.Start; ptr.Before(iv.End); {
		next := AddYears(ptr, 1)
		if next.After(iv.End) {
			next = iv.End
		}
		chunks = append(chunks, Interval{Start: ptr, End: next})
		ptr = next
	}
	return chunks
}

// AddYears moves t by n calendar years keeping month, day and clock time.
// Feb 29 maps to Feb 28 when the target year is not a leap year, instead of
// rolling over into March as time.AddDate would.
func AddYears(t time.Time, n int) time.Time {
	year := t.Year() + n
	day := t.Day()
	if t.Month() == time.February && day == 29 && !isLeap(year) {
		day = 28
	}
	return time.Date(year, t.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
