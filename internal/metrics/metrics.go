// Package metrics exposes Prometheus instrumentation for ingestion and
// retention. Collectors register with the default registry at init and are
// served by the HTTP layer on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure classes for IngestFailures
const (
	FailureInvalidPayload = "invalid_payload"
	FailureStorageMissing = "storage_missing"
	FailureDuplicate      = "duplicate"
	FailureProcessing     = "processing"
)

var (
	// Ingestion
	EventsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ellen_events_stored_total",
			Help: "Total number of events appended to the backing store",
		},
		[]string{"store"},
	)

	CandidatesSeen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ellen_candidates_seen_total",
			Help: "Total number of candidates received in notifications",
		},
	)

	IngestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ellen_ingest_failures_total",
			Help: "Total number of notifications that were not stored",
		},
		[]string{"class"},
	)

	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ellen_ingest_duration_seconds",
			Help:    "Time from payload receipt to durable append",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store"},
	)

	// Retention
	RowsPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ellen_rows_pruned_total",
			Help: "Total number of event records removed by retention",
		},
		[]string{"store"},
	)

	Rollovers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ellen_rollovers_total",
			Help: "Total number of spreadsheet rollovers",
		},
	)

	StoreRecreations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ellen_store_recreations_total",
			Help: "Total number of times the backing file was created by ensure",
		},
		[]string{"store"},
	)

	LastPrune = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ellen_last_prune_timestamp_seconds",
			Help: "Unix time of the most recent retention run",
		},
	)
)

// RecordStored counts one appended event and its latency
func RecordStored(store string, elapsed time.Duration) {
	EventsStored.WithLabelValues(store).Inc()
	IngestDuration.WithLabelValues(store).Observe(elapsed.Seconds())
}

// RecordFailure counts one rejected or failed notification
func RecordFailure(class string) {
	IngestFailures.WithLabelValues(class).Inc()
}

// RecordPrune records the outcome of a retention run
func RecordPrune(store string, removed int, rolledOver bool, at time.Time) {
	if removed > 0 {
		RowsPruned.WithLabelValues(store).Add(float64(removed))
	}
	if rolledOver {
		Rollovers.Inc()
	}
	LastPrune.Set(float64(at.Unix()))
}

// RecordEnsure counts a store file creation
func RecordEnsure(store string, created bool) {
	if created {
		StoreRecreations.WithLabelValues(store).Inc()
	}
}
