package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 流水线阶段
const (
	StageExtract  = "extract"
	StageEmbed    = "embed"
	StageUpsert   = "upsert"
	StageRetrieve = "retrieve"
	StageGenerate = "generate"
)

// Metrics 入库与问答指标，nil 接收者上的方法均为空操作
type Metrics struct {
	ingestRequests *prometheus.CounterVec
	ingestChunks   *prometheus.CounterVec
	ingestFailures *prometheus.CounterVec
	queryRequests  *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
}

// New 注册指标到reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ingestRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docqa",
				Name:      "ingest_requests_total",
				Help:      "Ingest requests by outcome",
			},
			[]string{"outcome"},
		),
		ingestChunks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docqa",
				Name:      "ingest_chunks_total",
				Help:      "Chunks processed by ingest, by status",
			},
			[]string{"status"},
		),
		ingestFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docqa",
				Name:      "ingest_failures_total",
				Help:      "Per-file and per-chunk ingest failures by stage",
			},
			[]string{"stage"},
		),
		queryRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docqa",
				Name:      "query_requests_total",
				Help:      "Queries by terminal state",
			},
			[]string{"state"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docqa",
				Name:      "stage_duration_seconds",
				Help:      "Latency of remote pipeline calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}
}

func (m *Metrics) IngestOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ingestRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ChunksIndexed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestChunks.WithLabelValues("indexed").Add(float64(n))
}

func (m *Metrics) IngestFailure(stage string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(stage).Inc()
	if stage != StageExtract {
		m.ingestChunks.WithLabelValues("failed").Inc()
	}
}

func (m *Metrics) QueryState(state string) {
	if m == nil {
		return
	}
	m.queryRequests.WithLabelValues(state).Inc()
}

// ObserveStage 记录从start到现在的耗时
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
