package guardrails

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/E4Itraining/AIOBS-sub000/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IncidentStatus 事件处理状态
type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "open"
	IncidentResolved IncidentStatus = "resolved"
)

// Incident is an append-only record of a non-allow decision.
type Incident struct {
	ID             string         `json:"id"`
	Sequence       uint64         `json:"sequence"`
	Timestamp      time.Time      `json:"timestamp"`
	Class          ThreatClass    `json:"class"`
	Severity       Severity       `json:"severity"`
	Score          float64        `json:"score"`
	RequestID      string         `json:"request_id"`
	Recommendation Recommendation `json:"recommendation"`
	Technique      string         `json:"technique,omitempty"`
	Description    string         `json:"description"`
	Status         IncidentStatus `json:"status"`
	TenantID       string         `json:"tenant_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	ModelID        string         `json:"model_id,omitempty"`
	ContentHash    string         `json:"content_hash,omitempty"`
}

// IncidentSeverity maps a triggering score to an incident severity.
func IncidentSeverity(score float64) Severity {
	switch {
	case score > 0.8:
		return SeverityCritical
	case score > 0.6:
		return SeverityHigh
	case score > 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IncidentSink receives every incident after it is sequenced. Implementations
// must not modify or delete previously appended incidents.
type IncidentSink interface {
	Append(ctx context.Context, inc Incident) error
}

// IncidentFilter 事件查询过滤器
type IncidentFilter struct {
	Class     ThreatClass    `json:"class,omitempty"`
	Severity  Severity       `json:"severity,omitempty"`
	Status    IncidentStatus `json:"status,omitempty"`
	TenantID  string         `json:"tenant_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Since     *time.Time     `json:"since,omitempty"`
	Until     *time.Time     `json:"until,omitempty"`
	Limit     int            `json:"limit,omitempty"`
	Offset    int            `json:"offset,omitempty"`
}

// Match reports whether inc passes every non-empty criterion.
func (f *IncidentFilter) Match(inc Incident) bool {
	if f == nil {
		return true
	}
	if f.Class != "" && inc.Class != f.Class {
		return false
	}
	if f.Severity != "" && inc.Severity != f.Severity {
		return false
	}
	if f.Status != "" && inc.Status != f.Status {
		return false
	}
	if f.TenantID != "" && inc.TenantID != f.TenantID {
		return false
	}
	if f.RequestID != "" && inc.RequestID != f.RequestID {
		return false
	}
	if f.Since != nil && inc.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && inc.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

// Page returns the [start,end) window of n matched items.
func (f *IncidentFilter) Page(n int) (int, int) {
	if f == nil {
		return 0, n
	}
	start := min(max(f.Offset, 0), n)
	end := n
	if f.Limit > 0 && start+f.Limit < n {
		end = start + f.Limit
	}
	return start, end
}

// HashContent returns the hex SHA-256 of content. Incidents carry the hash
// instead of the text.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSink forwards every incident to sink.
func WithSink(sink IncidentSink) RecorderOption {
	return func(r *Recorder) { r.sink = sink }
}

// WithRecorderLogger sets the logger.
func WithRecorderLogger(logger *zap.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecorderClock overrides the time source.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// Recorder owns the incident log and request counters. It is shared by
// concurrent evaluations; all writes are serialized by mu.
type Recorder struct {
	mu        sync.RWMutex
	seq       uint64
	last      time.Time
	incidents []Incident
	counters  counters

	sink   IncidentSink
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder creates an in-memory recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "incident_recorder"))
	r.counters.init()
	return r
}

// Append sequences draft, stores it and forwards it to the sink. ID,
// Sequence, Timestamp and Status are assigned here. Sequence is strictly
// increasing and Timestamp never goes backwards within one Recorder. A sink
// failure is returned as ErrIncidentSinkFailed but the in-memory append stands.
func (r *Recorder) Append(ctx context.Context, draft Incident) (Incident, error) {
	r.mu.Lock()
	r.seq++
	inc := draft
	inc.Sequence = r.seq
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	ts := r.now().UTC()
	if ts.Before(r.last) {
		ts = r.last
	}
	r.last = ts
	inc.Timestamp = ts
	if inc.Status == "" {
		inc.Status = IncidentOpen
	}
	if inc.Severity == "" {
		inc.Severity = IncidentSeverity(inc.Score)
	}
	r.incidents = append(r.incidents, inc)
	r.counters.incident(inc.Severity)
	r.mu.Unlock()

	r.logger.Info("incident recorded",
		zap.String("incident_id", inc.ID),
		zap.Uint64("sequence", inc.Sequence),
		zap.String("request_id", inc.RequestID),
		zap.String("class", string(inc.Class)),
		zap.String("severity", string(inc.Severity)),
		zap.String("recommendation", string(inc.Recommendation)),
	)

	if r.sink == nil {
		return inc, nil
	}
	if err := r.sink.Append(ctx, inc); err != nil {
		r.mu.Lock()
		r.counters.SinkFailures++
		r.mu.Unlock()
		r.logger.Error("incident sink append failed",
			zap.String("incident_id", inc.ID),
			zap.Error(err),
		)
		return inc, types.NewError(types.ErrIncidentSinkFailed,
			fmt.Sprintf("append incident %s", inc.ID)).WithCause(err).WithRetryable(true)
	}
	return inc, nil
}

// Incidents returns copies of matching incidents in sequence order.
func (r *Recorder) Incidents(filter *IncidentFilter) []Incident {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Incident
	for _, inc := range r.incidents {
		if filter.Match(inc) {
			matched = append(matched, inc)
		}
	}
	start, end := filter.Page(len(matched))
	out := make([]Incident, end-start)
	copy(out, matched[start:end])
	return out
}

// Count returns the number of matching incidents, ignoring paging.
func (r *Recorder) Count(filter *IncidentFilter) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, inc := range r.incidents {
		if filter.Match(inc) {
			n++
		}
	}
	return n
}

// Observe updates request counters from a finished outcome.
func (r *Recorder) Observe(out *Outcome) {
	if out == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.observe(out)
}

// Metrics returns a snapshot with derived rates computed at read time.
func (r *Recorder) Metrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters.snapshot()
}
