package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ValidationOutcomes counts validation attempts partitioned by outcome.
// The "outcome" label is one of valid, invalid, or transient, so the ratio of
// transient failures to definitive results is visible at a glance.
var ValidationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_search_validation_outcomes_total",
	Help: "Validation attempts by outcome",
}, []string{"outcome"})

// SweepsTotal counts completed validation sweeps. The "trigger" label
// distinguishes scheduled background sweeps from manually requested ones.
var SweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_search_sweeps_total",
	Help: "Completed validation sweeps",
}, []string{"trigger"})

// SweepDuration observes how long complete sweeps take, import included.
// Sweeps run sequentially over the due list so durations stretch into minutes
// on large registries.
var SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "kptv_search_sweep_duration_seconds",
	Help:    "Duration of validation sweeps",
	Buckets: prometheus.ExponentialBuckets(1, 2, 12),
})

// ImportedCandidates counts server candidates produced per import source
// (txt, feed). This counts what the sources yielded, not what was new to the
// registry.
var ImportedCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_search_imported_candidates_total",
	Help: "Server candidates produced by import source",
}, []string{"source"})

// SearchesTotal counts search requests. The "cache" label is hit or miss.
var SearchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_search_searches_total",
	Help: "Search requests by cache outcome",
}, []string{"cache"})

// SearchDuration observes end-to-end search latency including the registry
// query and all post-filters.
var SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "kptv_search_search_duration_seconds",
	Help:    "Duration of search requests",
	Buckets: prometheus.DefBuckets,
})

// ValidServers tracks how many servers are currently marked valid. Updated
// at the end of every sweep.
var ValidServers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "kptv_search_valid_servers",
	Help: "Servers currently marked valid",
})

// IndexedChannels tracks the current size of the channel index. Updated at
// the end of every sweep.
var IndexedChannels = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "kptv_search_indexed_channels",
	Help: "Channels currently indexed",
})
