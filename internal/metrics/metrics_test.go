package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveQuery("POLICY", "rag", 120*time.Millisecond)
	m.ObserveQuery("POLICY", "rag", 80*time.Millisecond)
	m.ObserveQuery("GENERAL", "direct", 10*time.Millisecond)
	m.ObserveError(time.Second)
	m.ObserveClassification("keyword")
	m.SessionsExpired(3)
	m.SessionsExpired(0)
	m.ChunksIngested(12)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.queries.WithLabelValues("POLICY", "rag")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("GENERAL", "direct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.classifications.WithLabelValues("keyword")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.expired))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.ingested))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveQuery("GENERAL", "direct", time.Millisecond)
		m.ObserveError(time.Millisecond)
		m.ObserveClassification("llm")
		m.ObserveRetrieval(2)
		m.SessionsExpired(1)
		m.ChunksIngested(1)
	})
}
