package errors

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrorMonitor 按错误码统计错误
type ErrorMonitor struct {
	errorCounter *prometheus.CounterVec

	stats      map[ErrorCode]*ErrorStats
	statsMutex sync.RWMutex
}

// ErrorStats 错误统计信息
type ErrorStats struct {
	Code      ErrorCode `json:"code"`
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// NewErrorMonitor 创建错误监控器，指标注册到reg
func NewErrorMonitor(reg prometheus.Registerer) *ErrorMonitor {
	return &ErrorMonitor{
		errorCounter: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docqa",
				Name:      "errors_total",
				Help:      "Total number of errors by code and type",
			},
			[]string{"code", "type", "endpoint"},
		),
		stats: make(map[ErrorCode]*ErrorStats),
	}
}

// RecordError 记录错误
func (em *ErrorMonitor) RecordError(appErr *AppError, endpoint string) {
	if appErr == nil {
		return
	}
	em.errorCounter.WithLabelValues(string(appErr.Code), appErr.Type.String(), endpoint).Inc()

	now := time.Now()
	em.statsMutex.Lock()
	defer em.statsMutex.Unlock()

	stats, ok := em.stats[appErr.Code]
	if !ok {
		stats = &ErrorStats{Code: appErr.Code, FirstSeen: now}
		em.stats[appErr.Code] = stats
	}
	stats.Count++
	stats.LastSeen = now
}

// Snapshot 返回当前统计副本
func (em *ErrorMonitor) Snapshot() map[ErrorCode]ErrorStats {
	em.statsMutex.RLock()
	defer em.statsMutex.RUnlock()

	out := make(map[ErrorCode]ErrorStats, len(em.stats))
	for code, s := range em.stats {
		out[code] = *s
	}
	return out
}
