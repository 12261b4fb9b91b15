package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/contrib-harvester/pkg/github"
	"github.com/Sternrassler/contrib-harvester/pkg/store"
	"github.com/Sternrassler/contrib-harvester/pkg/window"
)

// taskFile is the YAML layout of --tasks.
//
//	tasks:
//	  - entity: octocat            # before/after windows around the span
//	    start: 2021-03-01
//	    end: 2021-09-30
//	  - entity: golang/go          # one explicit window
//	    kind: after
//	    start: 2022-01-01
//	    end: 2023-01-01
//
// With source accessibility a task only names repositories:
//
//	tasks:
//	  - entity: golang/go,https://github.com/octocat/hello-world
type taskFile struct {
	Tasks []task `yaml:"tasks"`
}

type task struct {
	Entity string `yaml:"entity"`
	Kind   string `yaml:"kind"`
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
}

// loadTasks reads a task file into window requests. Tasks without a kind
// expand to the before and after windows of width span around
// [start, end].
func loadTasks(path string, span time.Duration) ([]window.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	return parseTasks(data, span)
}

func parseTasks(data []byte, span time.Duration) ([]window.Request, error) {
	var file taskFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tasks: %w", err)
	}

	var requests []window.Request
	for i, t := range file.Tasks {
		entity := strings.TrimSpace(t.Entity)
		if entity == "" {
			return nil, fmt.Errorf("task %d: entity is required", i+1)
		}
		start, err := parseDate(t.Start)
		if err != nil {
			return nil, fmt.Errorf("task %d (%s): start: %w", i+1, entity, err)
		}
		end, err := parseDate(t.End)
		if err != nil {
			return nil, fmt.Errorf("task %d (%s): end: %w", i+1, entity, err)
		}

		if t.Kind == "" {
			requests = append(requests, window.RequestsAround(entity, start, end, span)...)
			continue
		}
		kind := window.Kind(strings.ToLower(strings.TrimSpace(t.Kind)))
		if !kind.Valid() {
			return nil, fmt.Errorf("task %d (%s): unknown kind %q", i+1, entity, t.Kind)
		}
		requests = append(requests, window.Request{
			EntityID: entity,
			Kind:     kind,
			Window:   window.Interval{Start: start, End: end},
		})
	}
	return requests, nil
}

// loadBatches reads a task file for the accessibility source. Each task's
// entity is a comma-separated repository list, split into batches of at
// most github.MaxAccessibilityBatch; every batch gets one window covering
// day, so a cached check is reused for that day only.
func loadBatches(path string, day time.Time) ([]window.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	return parseBatches(data, day)
}

func parseBatches(data []byte, day time.Time) ([]window.Request, error) {
	var file taskFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tasks: %w", err)
	}

	start := day.UTC().Truncate(24 * time.Hour)
	check := window.Interval{Start: start, End: start.Add(24 * time.Hour)}

	var requests []window.Request
	for i, t := range file.Tasks {
		batches := github.SplitBatch(t.Entity)
		if len(batches) == 0 {
			return nil, fmt.Errorf("task %d: entity is required", i+1)
		}
		for _, b := range batches {
			requests = append(requests, window.Request{EntityID: b, Kind: window.KindBefore, Window: check})
		}
	}
	return requests, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither YYYY-MM-DD nor RFC 3339", s)
	}
	return t.UTC(), nil
}

// entityIDs returns the distinct entities of requests in first-seen order.
func entityIDs(requests []window.Request) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, r := range requests {
		if !seen[r.EntityID] {
			seen[r.EntityID] = true
			ids = append(ids, r.EntityID)
		}
	}
	return ids
}

// pendingRequests drops the requests of entities st records as processed.
// A nil store keeps every request.
func pendingRequests(ctx context.Context, st store.Store, requests []window.Request, logger zerolog.Logger) ([]window.Request, error) {
	if st == nil {
		return requests, nil
	}
	done, err := st.Processed(ctx)
	if err != nil {
		return nil, err
	}

	before := len(entityIDs(requests))
	pending := skipProcessed(requests, done)
	if skipped := before - len(entityIDs(pending)); skipped > 0 {
		logger.Info().Int("skipped", skipped).Msg("Skipping entities completed by earlier runs")
	}
	return pending, nil
}

// skipProcessed drops requests of entities in done.
func skipProcessed(requests []window.Request, done map[string]bool) []window.Request {
	if len(done) == 0 {
		return requests
	}
	out := requests[:0:0]
	for _, r := range requests {
		if !done[r.EntityID] {
			out = append(out, r)
		}
	}
	return out
}
