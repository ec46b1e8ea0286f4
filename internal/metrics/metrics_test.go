package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IngestOutcome("ok")
	m.ChunksIndexed(3)
	m.IngestFailure(StageEmbed)
	m.IngestFailure(StageExtract)
	m.QueryState("Answered")
	m.ObserveStage(StageEmbed, time.Now())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestRequests.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ingestChunks.WithLabelValues("indexed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestChunks.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestFailures.WithLabelValues(StageExtract)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queryRequests.WithLabelValues("Answered")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IngestOutcome("ok")
		m.ChunksIndexed(1)
		m.IngestFailure(StageUpsert)
		m.QueryState("NoContext")
		m.ObserveStage(StageGenerate, time.Now())
	})
}
