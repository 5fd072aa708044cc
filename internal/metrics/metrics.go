// Package metrics exposes Prometheus collectors for the agent. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "policyagent"

// Metrics groups the collectors updated while serving queries
type Metrics struct {
	queries         *prometheus.CounterVec
	errors          prometheus.Counter
	classifications *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	retrieved       prometheus.Histogram
	expired         prometheus.Counter
	ingested        prometheus.Counter
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries answered, by classification and method.",
		}, []string{"query_type", "method"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_errors_total",
			Help:      "Queries that ended on the apology path.",
		}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classifications, by the path that produced them.",
		}, []string{"classified_by"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Wall-clock time to process one turn.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"method"}),
		retrieved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_chunks",
			Help:      "Chunks kept after the similarity threshold.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions removed by the expiry sweep.",
		}),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_chunks_total",
			Help:      "Chunks added to the vector index.",
		}),
	}

	reg.MustRegister(m.queries, m.errors, m.classifications, m.duration, m.retrieved, m.expired, m.ingested)
	return m
}

// ObserveQuery records a successful turn
func (m *Metrics) ObserveQuery(queryType, method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(queryType, method).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveError records a failed turn
func (m *Metrics) ObserveError(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.errors.Inc()
	m.duration.WithLabelValues("error").Observe(elapsed.Seconds())
}

// ObserveClassification records which path classified a query
func (m *Metrics) ObserveClassification(classifiedBy string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(classifiedBy).Inc()
}

// ObserveRetrieval records how many chunks a retrieval kept
func (m *Metrics) ObserveRetrieval(n int) {
	if m == nil {
		return
	}
	m.retrieved.Observe(float64(n))
}

// SessionsExpired adds n expired sessions
func (m *Metrics) SessionsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}

// ChunksIngested adds n ingested chunks
func (m *Metrics) ChunksIngested(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingested.Add(float64(n))
}
