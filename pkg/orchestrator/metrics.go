package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for entity and chunk processing.
var (
	entitiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_entities_total",
		Help: "Total entities finished by status (complete, incomplete)",
	}, []string{"status"})

	entitiesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_entities_active",
		Help: "Number of entities currently being processed",
	})

	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_chunks_total",
		Help: "Total chunks finished by status",
	}, []string{"status"})

	chunkCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_chunk_cache_hits_total",
		Help: "Total chunks served from the chunk cache without a call",
	})
)
