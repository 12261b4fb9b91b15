package orchestrator

import "sort"

// Summary aggregates the results of a run.
type Summary struct {
	Counts   map[Status]int
	Entities int
	Results  int

	// PersistErrors counts results whose entity failed to persist.
	PersistErrors int

	// RetryEntities lists entities with partial, failed or unpersisted
	// results, sorted.
	RetryEntities []string

	// NotFoundEntities lists entities reported as not found, sorted.
	NotFoundEntities []string

	entities map[string]bool
	retry    map[string]bool
	notFound map[string]bool
}

// NewSummary returns an empty summary.
func NewSummary() *Summary {
	return &Summary{
		Counts:   make(map[Status]int),
		entities: make(map[string]bool),
		retry:    make(map[string]bool),
		notFound: make(map[string]bool),
	}
}

// Add records one result.
func (s *Summary) Add(r FetchResult) {
	s.Results++
	s.Counts[r.Status]++
	if r.PersistErr != nil {
		s.PersistErrors++
	}

	if !s.entities[r.EntityID] {
		s.entities[r.EntityID] = true
		s.Entities++
	}
	if r.NeedsRetry() && !s.retry[r.EntityID] {
		s.retry[r.EntityID] = true
		s.RetryEntities = insertSorted(s.RetryEntities, r.EntityID)
	}
	if r.Status == StatusNotFound && !s.notFound[r.EntityID] {
		s.notFound[r.EntityID] = true
		s.NotFoundEntities = insertSorted(s.NotFoundEntities, r.EntityID)
	}
}

func insertSorted(list []string, s string) []string {
	i := sort.SearchStrings(list, s)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = s
	return list
}

// Collect drains ch into a summary.
func Collect(ch <-chan FetchResult) Summary {
	s := NewSummary()
	for r := range ch {
		s.Add(r)
	}
	return *s
}
