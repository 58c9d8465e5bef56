// Package incidentstore persists guardrail incidents outside the process.
// This package is internal and should not be imported by external projects.
package incidentstore

import (
	"context"
	"time"

	"github.com/E4Itraining/AIOBS-sub000/guardrails"
)

// =============================================================================
// 📒 事件存储接口
// =============================================================================

// Reader 查询事件。List 按 (Timestamp, Sequence) 升序返回分页结果，
// total 为忽略分页后的匹配总数。
type Reader interface {
	List(ctx context.Context, filter *guardrails.IncidentFilter) (items []guardrails.Incident, total int64, err error)
}

// Store 是只追加的持久化事件存储，同时作为 guardrails.IncidentSink。
type Store interface {
	guardrails.IncidentSink
	Reader
	Backend() string
	Ping(ctx context.Context) error
	Close() error
}

// OperationObserver 接收存储操作耗时与结果，签名与
// metrics.Collector.RecordStoreOperation 一致。
type OperationObserver func(backend, operation string, duration time.Duration, err error)

// =============================================================================
// 🧠 内存读取器
// =============================================================================

// RecorderReader 直接读取进程内 Recorder，用于 memory 存储模式。
type RecorderReader struct {
	recorder *guardrails.Recorder
}

// NewRecorderReader 包装 Recorder
func NewRecorderReader(r *guardrails.Recorder) *RecorderReader {
	return &RecorderReader{recorder: r}
}

// List 实现 Reader
func (r *RecorderReader) List(ctx context.Context, filter *guardrails.IncidentFilter) ([]guardrails.Incident, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return r.recorder.Incidents(filter), int64(r.recorder.Count(filter)), nil
}

// =============================================================================
// 📈 观测包装
// =============================================================================

type instrumented struct {
	Store
	observe OperationObserver
}

// Instrument 为 Store 的 Append/List 记录耗时与失败
func Instrument(s Store, observe OperationObserver) Store {
	if observe == nil {
		return s
	}
	return &instrumented{Store: s, observe: observe}
}

func (i *instrumented) Append(ctx context.Context, inc guardrails.Incident) error {
	start := time.Now()
	err := i.Store.Append(ctx, inc)
	i.observe(i.Backend(), "append", time.Since(start), err)
	return err
}

func (i *instrumented) List(ctx context.Context, filter *guardrails.IncidentFilter) ([]guardrails.Incident, int64, error) {
	start := time.Now()
	items, total, err := i.Store.List(ctx, filter)
	i.observe(i.Backend(), "list", time.Since(start), err)
	return items, total, err
}

// =============================================================================
// ⏱️ 写入超时
// =============================================================================

type timeoutSink struct {
	Store
	timeout time.Duration
}

// WithWriteTimeout 限制单次 Append 的耗时，防止慢存储拖住评估请求
func WithWriteTimeout(s Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return s
	}
	return &timeoutSink{Store: s, timeout: timeout}
}

func (t *timeoutSink) Append(ctx context.Context, inc guardrails.Incident) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Store.Append(ctx, inc)
}
