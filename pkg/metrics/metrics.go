// Package metrics exposes the Prometheus metrics of a harvest run.
// Collectors are defined in their respective packages (ratelimit, client,
// orchestrator, cache) and registered via promauto; this package serves
// them and adds run-level progress gauges.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/contrib-harvester/pkg/orchestrator"
)

// Registry is the registerer all harvest collectors use.
var Registry = prometheus.DefaultRegisterer

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	runEntitiesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_run_entities_total",
		Help: "Number of entities scheduled in the current run",
	})

	runEntitiesDone = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_run_entities_done",
		Help: "Number of entities finished in the current run",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harvest_run_results",
		Help: "Results of the current run by status",
	}, []string{"status"})
)

// Progress is an orchestrator.ProgressSink that mirrors run progress into
// gauges and logs every Every entities.
type Progress struct {
	total  int
	every  int
	logger zerolog.Logger

	mu       sync.Mutex
	done     int
	byStatus map[orchestrator.Status]int
}

var _ orchestrator.ProgressSink = (*Progress)(nil)

// NewProgress creates a progress sink for a run of total entities.
// A non-positive every disables progress logging.
func NewProgress(total, every int, logger zerolog.Logger) *Progress {
	runEntitiesTotal.Set(float64(total))
	runEntitiesDone.Set(0)
	for _, s := range orchestrator.Statuses {
		runResults.WithLabelValues(string(s)).Set(0)
	}
	return &Progress{
		total:    total,
		every:    every,
		logger:   logger.With().Str("component", "progress").Logger(),
		byStatus: make(map[orchestrator.Status]int),
	}
}

// EntityDone records one finished entity.
func (p *Progress) EntityDone(entityID string, results []orchestrator.FetchResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	for _, r := range results {
		p.byStatus[r.Status]++
		runResults.WithLabelValues(string(r.Status)).Inc()
	}
	runEntitiesDone.Set(float64(p.done))

	if p.every > 0 && (p.done%p.every == 0 || p.done == p.total) {
		p.logger.Info().
			Int("done", p.done).
			Int("total", p.total).
			Str("last_entity", entityID).
			Int("ok", p.byStatus[orchestrator.StatusOK]).
			Int("partial", p.byStatus[orchestrator.StatusPartial]).
			Int("failed", p.byStatus[orchestrator.StatusFailed]).
			Int("not_found", p.byStatus[orchestrator.StatusNotFound]).
			Msg("Run progress")
	}
}

// SetTotal replaces the number of entities the run expects, once entities
// completed by earlier runs have been dropped.
func (p *Progress) SetTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	runEntitiesTotal.Set(float64(total))
}

// Done returns how many entities have finished.
func (p *Progress) Done() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Count returns how many results ended with status s.
func (p *Progress) Count(s orchestrator.Status) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byStatus[s]
}

// Metrics Documentation
//
// Credential Metrics (pkg/ratelimit):
//   - harvest_credential_remaining{credential} (Gauge): Estimated calls left per credential
//   - harvest_credential_refills_total (Counter): Exhausted credentials refilled at reset
//   - harvest_limiter_waits_total{reason} (Counter): Acquire waits (busy, exhausted)
//   - harvest_limiter_permits_in_use (Gauge): In-flight calls holding a permit
//   - harvest_quota_snapshots_dropped_total (Counter): Snapshots dropped by a saturated writer
//
// Call Metrics (pkg/client):
//   - harvest_requests_total{outcome} (Counter): Calls by outcome
//   - harvest_request_duration_seconds (Histogram): Call duration
//   - harvest_retries_total{outcome} (Counter): Retries by triggering outcome
//   - harvest_retry_backoff_seconds{outcome} (Histogram): Backoff before a retry
//   - harvest_retry_exhausted_total{outcome} (Counter): Chunks that used up their budget
//
// Orchestrator Metrics (pkg/orchestrator):
//   - harvest_entities_total{status} (Counter): Entities by complete/incomplete
//   - harvest_entities_active (Gauge): Entities in progress
//   - harvest_chunks_total{status} (Counter): Chunks by status
//   - harvest_chunk_cache_hits_total (Counter): Chunks served from the cache
//
// Cache Metrics (pkg/cache):
//   - harvest_cache_hits_total{backend} (Counter)
//   - harvest_cache_misses_total{backend} (Counter)
//   - harvest_cache_writes_total{backend} (Counter)
//   - harvest_cache_errors_total{backend,operation} (Counter)
//
// Run Metrics (this package):
//   - harvest_run_entities_total (Gauge), harvest_run_entities_done (Gauge)
//   - harvest_run_results{status} (Gauge)
//
// Example Prometheus Queries:
//
//   # Share of calls that hit a rate limit
//   sum(rate(harvest_requests_total{outcome="rate_limited"}[5m])) /
//   sum(rate(harvest_requests_total[5m]))
//
//   # Run completion
//   harvest_run_entities_done / harvest_run_entities_total
//
//   # P95 call latency
//   histogram_quantile(0.95, rate(harvest_request_duration_seconds_bucket[5m]))
