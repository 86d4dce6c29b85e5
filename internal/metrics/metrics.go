// Package metrics provides Prometheus metrics for moviesearch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "moviesearch"

var (
	// LookupsTotal counts settled lookups by outcome (success, failure).
	LookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Total number of settled lookups",
		},
		[]string{"outcome"},
	)

	// LookupDuration measures upstream lookup latency.
	LookupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Duration of lookups in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// StaleResultsTotal counts outcomes dropped because a newer query superseded them.
	StaleResultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_total",
			Help:      "Total number of lookup outcomes discarded as stale",
		},
	)

	// CacheTotal counts lookup cache hits and misses.
	CacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_total",
			Help:      "Lookup cache results",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks live browser sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live search sessions",
		},
	)
)
