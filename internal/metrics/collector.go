// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器,nil 接收者上的所有方法都是空操作.
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 缓存指标
	lookupsTotal    *prometheus.CounterVec
	lookupDuration  *prometheus.HistogramVec
	admissionsTotal *prometheus.CounterVec
	l1Size          prometheus.Gauge
	tokensSaved     *prometheus.CounterVec

	// 索引与上游指标
	indexUpsertFailures prometheus.Counter
	upstreamCallsTotal  prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 缓存指标
	c.lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Total number of cache lookups by resulting tier",
		},
		[]string{"tier"},
	)

	c.lookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Cache lookup duration in seconds by resulting tier",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"tier"},
	)

	c.admissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Total number of cache admissions",
		},
		[]string{"status"},
	)

	c.l1Size = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "l1_entries",
			Help:      "Current number of entries in the exact cache",
		},
	)

	c.tokensSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_saved_total",
			Help:      "Completion tokens served from cache instead of upstream",
		},
		[]string{"tier"},
	)

	c.indexUpsertFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_upsert_failures_total",
			Help:      "Index upserts that exhausted their retries",
		},
	)

	c.upstreamCallsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Total number of upstream completion calls",
		},
	)

	return c
}

// RecordHTTPRequest 记录一次 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLookup 记录一次查找结果
func (c *Collector) RecordLookup(tier string) {
	if c == nil {
		return
	}
	c.lookupsTotal.WithLabelValues(tier).Inc()
}

// ObserveLookupDuration 记录一次查找耗时
func (c *Collector) ObserveLookupDuration(tier string, duration time.Duration) {
	if c == nil {
		return
	}
	c.lookupDuration.WithLabelValues(tier).Observe(duration.Seconds())
}

// RecordAdmission 记录一次准入
func (c *Collector) RecordAdmission(success bool) {
	if c == nil {
		return
	}
	status := "ok"
	if !success {
		status = "failed"
	}
	c.admissionsTotal.WithLabelValues(status).Inc()
}

// SetL1Size 更新 L1 条目数
func (c *Collector) SetL1Size(n int) {
	if c == nil {
		return
	}
	c.l1Size.Set(float64(n))
}

// RecordTokensSaved 累计缓存命中节省的补全 Token
func (c *Collector) RecordTokensSaved(tier string, tokens int) {
	if c == nil || tokens <= 0 {
		return
	}
	c.tokensSaved.WithLabelValues(tier).Add(float64(tokens))
}

// RecordIndexUpsertFailure 记录一次重试耗尽的索引写入
func (c *Collector) RecordIndexUpsertFailure() {
	if c == nil {
		return
	}
	c.indexUpsertFailures.Inc()
}

// RecordUpstreamCall 记录一次上游调用
func (c *Collector) RecordUpstreamCall() {
	if c == nil {
		return
	}
	c.upstreamCallsTotal.Inc()
}
