// Package telemetry exposes the pipeline's prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline counters. Reporting is best-effort: nothing in
// the pipeline fails because a metric could not be collected.
type Metrics struct {
	EntitiesStored   prometheus.Counter
	EntitiesSkipped  prometheus.Counter
	StoreFailures    prometheus.Counter
	EntitiesIndexed  prometheus.Counter
	IndexFailures    prometheus.Counter
	QueriesExecuted  prometheus.Counter
	QueriesRejected  prometheus.Counter
	QueryDuration    prometheus.Histogram
	QueueDepth       prometheus.Gauge
}

// NewMetrics creates and registers the pipeline metrics with the given
// registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		EntitiesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entitydb_entities_stored_total",
			Help: "Number of entities durably stored.",
		}),
		EntitiesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entitydb_entities_skipped_total",
			Help: "Number of duplicate entities skipped by the store.",
		}),
		StoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entitydb_store_failures_total",
			Help: "Number of store attempts that failed.",
		}),
		EntitiesIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entitydb_entities_indexed_total",
			Help: "Number of entities moved into the search index.",
		}),
		IndexFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entitydb_index_failures_total",
			Help: "Number of entities the index reported as failed. Entities are retried on later cycles without bound; alarm on sustained growth.",
		}),
		QueriesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entitydb_queries_total",
			Help: "Number of EQL queries executed.",
		}),
		QueriesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entitydb_queries_rejected_total",
			Help: "Number of EQL queries rejected before execution.",
		}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "entitydb_query_duration_seconds",
			Help:    "End-to-end EQL query latency.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "entitydb_queue_depth",
			Help: "Number of ingest messages waiting in the queue.",
		}),
	}

	registerer.MustRegister(
		m.EntitiesStored,
		m.EntitiesSkipped,
		m.StoreFailures,
		m.EntitiesIndexed,
		m.IndexFailures,
		m.QueriesExecuted,
		m.QueriesRejected,
		m.QueryDuration,
		m.QueueDepth,
	)

	return m
}

// NewNoopMetrics creates metrics that are not registered anywhere, for use
// in tests and as a default.
func NewNoopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
