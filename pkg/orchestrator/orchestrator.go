package orchestrator

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/contrib-harvester/pkg/client"
	"github.com/Sternrassler/contrib-harvester/pkg/window"
	"github.com/rs/zerolog"
)

// Config holds orchestrator configuration.
type Config struct {
	// MaxConcurrentEntities is the number of entity workers.
	MaxConcurrentEntities int

	// BufferSize is the capacity of the result channel.
	BufferSize int

	// ProgressEvery logs a progress line every N finished entities.
	ProgressEvery int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentEntities: 10,
		BufferSize:            100,
		ProgressEvery:         50,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProgress sets the progress sink.
func WithProgress(p ProgressSink) Option {
	return func(o *Orchestrator) { o.progress = p }
}

// WithMarker sets where complete entities are recorded.
func WithMarker(m Marker) Option {
	return func(o *Orchestrator) { o.marker = m }
}

// WithCache sets the chunk cache.
func WithCache(c ChunkCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithConfig replaces the configuration. Zero fields take their defaults.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.config = cfg }
}

// Orchestrator runs window requests through a ChunkExecutor.
type Orchestrator struct {
	exec     ChunkExecutor
	sink     Sink
	marker   Marker
	progress ProgressSink
	cache    ChunkCache
	config   Config
	logger   zerolog.Logger
}

// New creates an orchestrator. sink may be nil when results are only
// consumed from the channel.
func New(exec ChunkExecutor, sink Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		exec:   exec,
		sink:   sink,
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	def := DefaultConfig()
	if o.config.MaxConcurrentEntities <= 0 {
		o.config.MaxConcurrentEntities = def.MaxConcurrentEntities
	}
	if o.config.BufferSize <= 0 {
		o.config.BufferSize = def.BufferSize
	}
	if o.config.ProgressEvery <= 0 {
		o.config.ProgressEvery = def.ProgressEvery
	}
	o.logger = o.logger.With().Str("component", "orchestrator").Logger()
	return o
}

// entityWork is every group of one entity.
type entityWork struct {
	entityID string
	groups   []window.Group
}

func byEntity(groups []window.Group) []entityWork {
	var work []entityWork
	index := make(map[string]int)
	for _, g := range groups {
		i, ok := index[g.EntityID]
		if !ok {
			i = len(work)
			index[g.EntityID] = i
			work = append(work, entityWork{entityID: g.EntityID})
		}
		work[i].groups = append(work[i].groups, g)
	}
	return work
}

// Run plans requests and processes them. The returned channel yields one
// result per (entity, kind) and closes when the run is over. Invalid
// requests are logged and skipped.
func (o *Orchestrator) Run(ctx context.Context, requests []window.Request) <-chan FetchResult {
	results := make(chan FetchResult, o.config.BufferSize)

	groups, err := window.Plan(requests)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Skipping invalid requests")
	}
	work := byEntity(groups)

	go func() {
		defer close(results)
		start := time.Now()

		o.logger.Info().
			Int("requests", len(requests)).
			Int("groups", len(groups)).
			Int("entities", len(work)).
			Int("workers", o.config.MaxConcurrentEntities).
			Msg("Starting run")

		queue := make(chan entityWork)
		var (
			wg   sync.WaitGroup
			done atomic.Int64
		)
		workers := min(o.config.MaxConcurrentEntities, len(work))
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go o.worker(ctx, i, queue, results, &wg, &done, len(work))
		}

	feed:
		for _, w := range work {
			select {
			case queue <- w:
			case <-ctx.Done():
				break feed
			}
		}
		close(queue)
		wg.Wait()

		evt := o.logger.Info()
		if ctx.Err() != nil {
			evt = o.logger.Warn().Err(ctx.Err())
		}
		evt.Int64("entities_done", done.Load()).
			Int("entities_total", len(work)).
			Dur("duration", time.Since(start)).
			Msg("Run finished")
	}()

	return results
}

// worker processes entities from the queue.
func (o *Orchestrator) worker(ctx context.Context, workerID int, queue <-chan entityWork, results chan<- FetchResult, wg *sync.WaitGroup, done *atomic.Int64, total int) {
	defer wg.Done()
	processed := 0

	for w := range queue {
		if ctx.Err() != nil {
			o.logger.Debug().
				Int("worker_id", workerID).
				Int("entities_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		}

		entitiesActive.Inc()
		entityResults, ok := o.processEntity(ctx, w)
		entitiesActive.Dec()
		if !ok {
			o.logger.Debug().
				Int("worker_id", workerID).
				Str("entity", w.entityID).
				Msg("Entity dropped (context cancelled)")
			return
		}

		for _, r := range entityResults {
			select {
			case results <- r:
			case <-ctx.Done():
				return
			}
		}
		processed++

		if n := done.Add(1); n%int64(o.config.ProgressEvery) == 0 {
			o.logger.Info().
				Int64("done", n).
				Int("total", total).
				Float64("progress_pct", float64(n)/float64(total)*100).
				Msg("Run progress")
		}
	}

	if processed > 0 {
		o.logger.Debug().
			Int("worker_id", workerID).
			Int("entities_processed", processed).
			Msg("Worker completed")
	}
}

// processEntity runs every group of one entity, then persists and reports.
// It returns false when ctx was cancelled before the entity finished.
func (o *Orchestrator) processEntity(ctx context.Context, w entityWork) ([]FetchResult, bool) {
	results := make([]FetchResult, 0, len(w.groups))
	notFound := false

	for _, g := range w.groups {
		if notFound {
			// The entity does not exist; its other windows need no calls.
			results = append(results, notFoundResult(g))
			continue
		}
		r, ok := o.processGroup(ctx, g)
		if !ok {
			return nil, false
		}
		notFound = r.Status == StatusNotFound
		results = append(results, r)
	}

	if ctx.Err() != nil {
		return nil, false
	}

	batch := newBatch(w.entityID, results)
	if o.sink != nil && len(batch.Results) > 0 {
		if err := o.sink.Persist(ctx, batch); err != nil {
			o.logger.Error().Err(err).Str("entity", w.entityID).Msg("Failed to persist entity")
			for i := range results {
				results[i].PersistErr = err
			}
			batch.Complete = false
		}
	}
	if o.marker != nil && batch.Complete {
		if err := o.marker.MarkProcessed(ctx, w.entityID); err != nil {
			o.logger.Error().Err(err).Str("entity", w.entityID).Msg("Failed to mark entity processed")
			for i := range results {
				results[i].PersistErr = err
			}
			batch.Complete = false
		}
	}

	status := "complete"
	if !batch.Complete {
		status = "incomplete"
	}
	entitiesTotal.WithLabelValues(status).Inc()

	if o.progress != nil {
		o.progress.EntityDone(w.entityID, results)
	}
	return results, true
}

func notFoundResult(g window.Group) FetchResult {
	span := g.Span()
	return FetchResult{
		EntityID:    g.EntityID,
		Kind:        g.Kind,
		WindowStart: span.Start,
		WindowEnd:   span.End,
		Status:      StatusNotFound,
		Intervals:   g.Merged,
		Chunks:      len(g.Chunks()),
	}
}

// processGroup runs the chunks of one group strictly in order.
// It returns false when a chunk was aborted.
func (o *Orchestrator) processGroup(ctx context.Context, g window.Group) (FetchResult, bool) {
	chunks := g.Chunks()
	span := g.Span()
	res := FetchResult{
		EntityID:    g.EntityID,
		Kind:        g.Kind,
		WindowStart: span.Start,
		WindowEnd:   span.End,
		Intervals:   g.Merged,
		Chunks:      len(chunks),
	}

	items := make(map[string]struct{})
	succeeded := 0

	for _, c := range chunks {
		if cached, ok := o.cached(ctx, g, c); ok {
			chunkCacheHitsTotal.Inc()
			for _, it := range cached {
				items[it] = struct{}{}
			}
			succeeded++
			continue
		}

		cr := o.exec.Execute(ctx, client.FetchTask{
			EntityID: g.EntityID,
			Kind:     g.Kind,
			Window:   c,
			Attempt:  1,
		})
		if cr.Aborted {
			return res, false
		}
		chunksTotal.WithLabelValues(cr.Status.String()).Inc()

		switch cr.Status {
		case client.ChunkOK:
			for _, it := range cr.Items {
				items[it] = struct{}{}
			}
			succeeded++
			o.remember(ctx, g, c, cr.Items)
		case client.ChunkNotFound:
			res.Status = StatusNotFound
			o.logger.Info().
				Str("entity", g.EntityID).
				Str("kind", string(g.Kind)).
				Msg("Entity not found")
			return res, true
		case client.ChunkFailed:
			res.FailedChunks++
			res.Error = cr.Err
		}
	}

	switch {
	case res.FailedChunks == 0:
		res.Status = StatusOK
	case succeeded > 0:
		res.Status = StatusPartial
	default:
		res.Status = StatusFailed
	}

	res.Items = make([]string, 0, len(items))
	for it := range items {
		res.Items = append(res.Items, it)
	}
	sort.Strings(res.Items)

	o.logger.Debug().
		Str("entity", g.EntityID).
		Str("kind", string(g.Kind)).
		Str("status", string(res.Status)).
		Int("chunks", res.Chunks).
		Int("failed_chunks", res.FailedChunks).
		Int("items", len(res.Items)).
		Msg("Group finished")

	return res, true
}

func (o *Orchestrator) cached(ctx context.Context, g window.Group, c window.Interval) ([]string, bool) {
	if o.cache == nil {
		return nil, false
	}
	items, ok, err := o.cache.Get(ctx, g.EntityID, g.Kind, c)
	if err != nil {
		o.logger.Warn().Err(err).Str("entity", g.EntityID).Msg("Chunk cache get error")
		return nil, false
	}
	return items, ok
}

func (o *Orchestrator) remember(ctx context.Context, g window.Group, c window.Interval, items []string) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Set(ctx, g.EntityID, g.Kind, c, items); err != nil {
		o.logger.Warn().Err(err).Str("entity", g.EntityID).Msg("Chunk cache set error")
	}
}
