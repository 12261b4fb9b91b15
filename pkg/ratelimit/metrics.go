package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for credential and permit tracking.
var (
	credentialRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harvest_credential_remaining",
		Help: "Estimated calls remaining per credential in the current quota window",
	}, []string{"credential"})

	credentialRefillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_credential_refills_total",
		Help: "Total number of exhausted credentials refilled after their reset time",
	})

	limiterWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_limiter_waits_total",
		Help: "Total number of acquire waits by reason (busy, exhausted)",
	}, []string{"reason"})

	permitsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_limiter_permits_in_use",
		Help: "Number of in-flight calls holding a limiter permit",
	})

	snapshotsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_quota_snapshots_dropped_total",
		Help: "Total number of quota snapshots dropped because the writer was saturated",
	})
)
