// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/E4Itraining/AIOBS-sub000/guardrails"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 guardrails.Observer
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 护栏指标
	evaluationsTotal    *prometheus.CounterVec
	evaluationDuration  *prometheus.HistogramVec
	classDecisionsTotal *prometheus.CounterVec
	classScore          *prometheus.HistogramVec
	detectorFailures    *prometheus.CounterVec
	incidentsTotal      *prometheus.CounterVec

	// 事件存储指标
	storeConnectionsOpen *prometheus.GaugeVec
	storeConnectionsIdle *prometheus.GaugeVec
	storeOpDuration      *prometheus.HistogramVec
	storeOpErrors        *prometheus.CounterVec

	logger *zap.Logger
}

var _ guardrails.Observer = (*Collector)(nil)

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
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

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 护栏指标
	c.evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Total number of guardrail evaluations by final recommendation",
		},
		[]string{"direction", "recommendation"},
	)

	c.evaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Guardrail evaluation latency in seconds",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"direction"},
	)

	c.classDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "class_decisions_total",
			Help:      "Per threat class decisions",
		},
		[]string{"class", "recommendation", "detected"},
	)

	c.classScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "class_score",
			Help:      "Distribution of per class risk scores",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"class"},
	)

	c.detectorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_failures_total",
			Help:      "Detector errors and timeouts",
		},
		[]string{"class", "technique"},
	)

	c.incidentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_total",
			Help:      "Total number of recorded security incidents",
		},
		[]string{"class", "severity"},
	)

	// 事件存储指标
	c.storeConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_connections_open",
			Help:      "Number of open incident store connections",
		},
		[]string{"backend"},
	)

	c.storeConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_connections_idle",
			Help:      "Number of idle incident store connections",
		},
		[]string{"backend"},
	)

	c.storeOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Incident store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	c.storeOpErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operation_errors_total",
			Help:      "Incident store operation failures",
		},
		[]string{"backend", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🛡️ 护栏指标记录（guardrails.Observer）
// =============================================================================

// ObserveRequest 记录一次完整评估
func (c *Collector) ObserveRequest(direction guardrails.Direction, rec guardrails.Recommendation, latency time.Duration) {
	c.evaluationsTotal.WithLabelValues(string(direction), string(rec)).Inc()
	c.evaluationDuration.WithLabelValues(string(direction)).Observe(latency.Seconds())
}

// ObserveClass 记录单个威胁类别的判定
func (c *Collector) ObserveClass(class guardrails.ThreatClass, rec guardrails.Recommendation, score float64, detected bool) {
	c.classDecisionsTotal.WithLabelValues(string(class), string(rec), boolLabel(detected)).Inc()
	c.classScore.WithLabelValues(string(class)).Observe(score)
}

// ObserveDetectorFailure 记录检测器错误或超时
func (c *Collector) ObserveDetectorFailure(class guardrails.ThreatClass, technique string) {
	c.detectorFailures.WithLabelValues(string(class), technique).Inc()
	c.logger.Debug("detector failure observed",
		zap.String("class", string(class)),
		zap.String("technique", technique),
	)
}

// ObserveIncident 记录安全事件
func (c *Collector) ObserveIncident(class guardrails.ThreatClass, severity guardrails.Severity) {
	c.incidentsTotal.WithLabelValues(string(class), string(severity)).Inc()
}

// =============================================================================
// 🗄️ 事件存储指标记录
// =============================================================================

// RecordStoreConnections 记录存储连接数
func (c *Collector) RecordStoreConnections(backend string, open, idle int) {
	c.storeConnectionsOpen.WithLabelValues(backend).Set(float64(open))
	c.storeConnectionsIdle.WithLabelValues(backend).Set(float64(idle))
}

// RecordStoreOperation 记录存储操作耗时，err 非空时计入失败
func (c *Collector) RecordStoreOperation(backend, operation string, duration time.Duration, err error) {
	c.storeOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		c.storeOpErrors.WithLabelValues(backend, operation).Inc()
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
