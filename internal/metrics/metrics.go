// Package metrics exposes the engine's lightweight expvar counters plus a
// direct prometheus registration for per-kind error counts, write/read
// latency, and compensation-queue depth.
package metrics

import (
	"expvar"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// expvar counters, in the teacher's style: simple running totals inspected
// via /debug/vars.
var (
	RecallTotal      = expvar.NewInt("recall_total")
	SaveTotal        = expvar.NewInt("save_total")
	SearchTotal      = expvar.NewInt("search_total")
	DedupSkipped     = expvar.NewInt("dedup_skipped")
	ConflictsFlagged = expvar.NewInt("conflicts_flagged")
	LifecycleExpired = expvar.NewInt("lifecycle_expired")
	CompensationJobs = expvar.NewInt("compensation_jobs")
)

// Inc increments an expvar counter by one.
func Inc(counter *expvar.Int) { counter.Add(1) }

// Prometheus collectors. Registered explicitly on the default registry by
// internal/api.NewServer (once per process), not via init-time side
// effects.
var (
	ErrorsByKind = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memcore",
		Name:      "errors_total",
		Help:      "Engine operations that returned an error, labeled by error kind.",
	}, []string{"op", "kind"})

	WriteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "memcore",
		Name:      "write_latency_seconds",
		Help:      "Save/ResolveConflict latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	ReadLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "memcore",
		Name:      "read_latency_seconds",
		Help:      "Search/GetContext latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	CompensationQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "memcore",
		Name:      "compensation_queue_depth",
		Help:      "Pending compensation tasks awaiting retry.",
	})
)

// Collectors bundles the collectors above for a single MustRegister call.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{ErrorsByKind, WriteLatency, ReadLatency, CompensationQueueDepth}
}

// ObserveError increments the labeled prometheus counter ErrorsByKind; it
// touches no expvar counter.
func ObserveError(op, kind string) {
	ErrorsByKind.WithLabelValues(op, kind).Inc()
}

// Timer returns a function that records elapsed time against hv when
// called, e.g. `defer metrics.Timer(metrics.WriteLatency, "save")()`.
func Timer(hv *prometheus.HistogramVec, op string) func() {
	start := time.Now()
	return func() {
		hv.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
