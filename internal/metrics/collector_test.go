package metrics

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/E4Itraining/AIOBS-sub000/guardrails"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.evaluationsTotal)
	assert.NotNil(t, collector.classDecisionsTotal)
	assert.NotNil(t, collector.detectorFailures)
	assert.NotNil(t, collector.incidentsTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("POST", "/api/v1/guardrails/evaluate", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("POST", "/api/v1/guardrails/evaluate", 200, 50*time.Millisecond, 512, 1024)
	collector.RecordHTTPRequest("POST", "/api/v1/guardrails/evaluate", 422, 5*time.Millisecond, 12, 80)

	assert.Equal(t, 2.0, testutil.ToFloat64(
		collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/guardrails/evaluate", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/guardrails/evaluate", "4xx")))
}

func TestCollector_ObserveRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ObserveRequest(guardrails.DirectionInput, guardrails.RecommendBlock, 3*time.Millisecond)
	collector.ObserveRequest(guardrails.DirectionInput, guardrails.RecommendAllow, time.Millisecond)
	collector.ObserveRequest(guardrails.DirectionOutput, guardrails.RecommendRedact, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		collector.evaluationsTotal.WithLabelValues("input", "block")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		collector.evaluationsTotal.WithLabelValues("output", "redact")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.evaluationDuration))
}

func TestCollector_ObserveClass(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ObserveClass(guardrails.ClassInjection, guardrails.RecommendBlock, 0.95, true)
	collector.ObserveClass(guardrails.ClassBias, guardrails.RecommendAllow, 0, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		collector.classDecisionsTotal.WithLabelValues("injection", "block", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		collector.classDecisionsTotal.WithLabelValues("bias", "allow", "false")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.classScore))
}

func TestCollector_ObserveFailuresAndIncidents(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ObserveDetectorFailure(guardrails.ClassToxicity, guardrails.TechniqueDetectorTimeout)
	collector.ObserveDetectorFailure(guardrails.ClassToxicity, guardrails.TechniqueDetectorTimeout)
	collector.ObserveIncident(guardrails.ClassDataLeak, guardrails.SeverityMedium)

	assert.Equal(t, 2.0, testutil.ToFloat64(
		collector.detectorFailures.WithLabelValues("toxicity", guardrails.TechniqueDetectorTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		collector.incidentsTotal.WithLabelValues("data-leak", "medium")))
}

func TestCollector_RecordStoreOperation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordStoreOperation("postgres", "append", 20*time.Millisecond, nil)
	collector.RecordStoreOperation("postgres", "append", 20*time.Millisecond, errors.New("conn reset"))

	assert.Equal(t, 1, testutil.CollectAndCount(collector.storeOpDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		collector.storeOpErrors.WithLabelValues("postgres", "append")))
}

func TestCollector_RecordStoreConnections(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordStoreConnections("postgres", 10, 5)

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.storeConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.storeConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/health", 200, time.Millisecond, 0, 64)
			collector.ObserveRequest(guardrails.DirectionInput, guardrails.RecommendAllow, time.Millisecond)
			collector.ObserveIncident(guardrails.ClassInjection, guardrails.SeverityCritical)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.evaluationsTotal.WithLabelValues("input", "allow")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.incidentsTotal.WithLabelValues("injection", "critical")))
}

func TestCollector_MetricsRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()

	// collector 自动注册到默认 registry，这里再手动注册到自定义 registry
	collector := NewCollector(nextTestNamespace(), zap.NewNop())
	registry.MustRegister(collector.evaluationsTotal)

	collector.ObserveRequest(guardrails.DirectionInput, guardrails.RecommendWarn, 0)

	mfs, err := registry.Gather()
	assert.NoError(t, err)
	assert.Len(t, mfs, 1)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(301))
	assert.Equal(t, "4xx", statusCode(429))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(100))
}
