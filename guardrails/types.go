package guardrails

import (
	"time"
)

// ThreatClass 威胁类别，每个类别独立评估
type ThreatClass string

const (
	ClassInjection ThreatClass = "injection"
	ClassJailbreak ThreatClass = "jailbreak"
	ClassDataLeak  ThreatClass = "data-leak"
	ClassToxicity  ThreatClass = "toxicity"
	ClassBias      ThreatClass = "bias"
)

// AllClasses lists every threat class in canonical evaluation order.
// The order is also the tie-break order for "most restrictive" selection.
var AllClasses = []ThreatClass{ClassInjection, ClassJailbreak, ClassDataLeak, ClassToxicity, ClassBias}

// Valid reports whether c is a known threat class.
func (c ThreatClass) Valid() bool {
	return c.order() >= 0
}

func (c ThreatClass) order() int {
	for i, known := range AllClasses {
		if known == c {
			return i
		}
	}
	return -1
}

// Direction 文本流向
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Turn is one prior message of the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestContext carries caller identity used for exemptions and incidents.
type RequestContext struct {
	ModelID   string `json:"model_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	// Roles holds every verified token role; set by the transport, never decoded.
	Roles []string `json:"-"`
}

// DetectionRequest is a single piece of text to scan. The engine never
// mutates a request; History is copied before use.
type DetectionRequest struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Direction Direction      `json:"direction,omitempty"`
	History   []Turn         `json:"history,omitempty"`
	Context   RequestContext `json:"context,omitempty"`
	// Classes restricts evaluation; empty means every enabled class.
	Classes []ThreatClass `json:"classes,omitempty"`
}

// Span is a half-open byte range [Start, End) into the original text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns End-Start.
func (s Span) Len() int {
	return s.End - s.Start
}

// Valid reports whether 0 <= Start < End <= n.
func (s Span) Valid(n int) bool {
	return s.Start >= 0 && s.Start < s.End && s.End <= n
}

// Overlaps reports whether two spans share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Severity 严重级别
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Weight returns the leak-risk weight of the severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1
	case SeverityHigh:
		return 0.75
	case SeverityMedium:
		return 0.5
	case SeverityLow:
		return 0.25
	default:
		return 0
	}
}

// compareSeverity 比较两个严重级别
// 返回: >0 如果 a > b, <0 如果 a < b, 0 如果相等
func compareSeverity(a, b Severity) int {
	order := map[Severity]int{
		SeverityInfo:     0,
		SeverityLow:      1,
		SeverityMedium:   2,
		SeverityHigh:     3,
		SeverityCritical: 4,
	}
	return order[a] - order[b]
}

// SeverityBreakpoints maps a confidence in [0,1] to a severity bucket.
// Each comparison is strictly greater-than.
type SeverityBreakpoints struct {
	Critical float64 `yaml:"critical" json:"critical" env:"CRITICAL"`
	High     float64 `yaml:"high" json:"high" env:"HIGH"`
	Medium   float64 `yaml:"medium" json:"medium" env:"MEDIUM"`
	Low      float64 `yaml:"low" json:"low" env:"LOW"`
}

// DefaultSeverityBreakpoints returns the documented default breakpoints.
func DefaultSeverityBreakpoints() SeverityBreakpoints {
	return SeverityBreakpoints{
		Critical: 0.9,
		High:     0.8,
		Medium:   0.5,
		Low:      0.2,
	}
}

// Classify returns the severity bucket for confidence.
func (b SeverityBreakpoints) Classify(confidence float64) Severity {
	switch {
	case confidence > b.Critical:
		return SeverityCritical
	case confidence > b.High:
		return SeverityHigh
	case confidence > b.Medium:
		return SeverityMedium
	case confidence > b.Low:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

func (b SeverityBreakpoints) valid() bool {
	for _, v := range []float64{b.Critical, b.High, b.Medium, b.Low} {
		if !inUnitRange(v) {
			return false
		}
	}
	return b.Critical > b.High && b.High > b.Medium && b.Medium > b.Low
}

// Finding is one detected signal within a threat class.
type Finding struct {
	Class       ThreatClass `json:"class"`
	RuleID      string      `json:"rule_id,omitempty"`
	Technique   string      `json:"technique"`
	Confidence  float64     `json:"confidence"`
	Spans       []Span      `json:"spans"`
	Explanation string      `json:"explanation"`
	Severity    Severity    `json:"severity"`
	Evidence    string      `json:"evidence,omitempty"`
}

// LeakKind 泄露类型
type LeakKind string

const (
	LeakKindPII    LeakKind = "pii"
	LeakKindSecret LeakKind = "secret"
	// LeakKindFiltered marks non-leak spans that are rewritten with a fixed
	// replacement (sanitized injection text).
	LeakKindFiltered LeakKind = "filtered"
)

// LeakItem is a Finding for PII or secrets, carrying the original and the
// masked value. len(OriginalValue) == Span().Len() always holds for items
// produced by this package.
type LeakItem struct {
	Finding
	Category      string   `json:"category"`
	Kind          LeakKind `json:"kind"`
	OriginalValue string   `json:"-"`
	MaskedValue   string   `json:"masked_value"`
}

// Span returns the single location of the leak.
func (l LeakItem) Span() Span {
	if len(l.Spans) == 0 {
		return Span{}
	}
	return l.Spans[0]
}

// Recommendation 最终处理建议
type Recommendation string

const (
	RecommendAllow    Recommendation = "allow"
	RecommendFlag     Recommendation = "flag"
	RecommendWarn     Recommendation = "warn"
	RecommendSanitize Recommendation = "sanitize"
	RecommendRedact   Recommendation = "redact"
	RecommendBlock    Recommendation = "block"
)

// Rank orders recommendations by restrictiveness.
func (r Recommendation) Rank() int {
	switch r {
	case RecommendBlock:
		return 4
	case RecommendRedact, RecommendSanitize:
		return 3
	case RecommendWarn, RecommendFlag:
		return 2
	default:
		return 1
	}
}

// Diagnostic is a non-fatal problem surfaced to the caller.
type Diagnostic struct {
	Class   ThreatClass `json:"class,omitempty"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// Technique markers used when a class could not be evaluated.
const (
	TechniqueDetectorError   = "detector-error"
	TechniqueDetectorTimeout = "detector-timeout"
)

// ClassOutcome is the evaluated result for one threat class.
type ClassOutcome struct {
	Class          ThreatClass    `json:"class"`
	Detected       bool           `json:"detected"`
	Score          float64        `json:"score"`
	Confidence     float64        `json:"confidence"`
	Technique      string         `json:"technique,omitempty"`
	Findings       []Finding      `json:"findings,omitempty"`
	Leaks          []LeakItem     `json:"leaks,omitempty"`
	Recommendation Recommendation `json:"recommendation"`
	// ConversationRisk is only set for injection and jailbreak.
	ConversationRisk float64 `json:"conversation_risk,omitempty"`
	PriorMatches     int     `json:"prior_matches,omitempty"`
}

// Outcome is the value returned for one request. It is built once and the
// engine keeps no reference to it.
type Outcome struct {
	RequestID       string                        `json:"request_id"`
	Direction       Direction                     `json:"direction"`
	Classes         map[ThreatClass]*ClassOutcome `json:"classes"`
	Order           []ThreatClass                 `json:"order"`
	Recommendation  Recommendation                `json:"recommendation"`
	TriggeredBy     ThreatClass                   `json:"triggered_by,omitempty"`
	Message         string                        `json:"message,omitempty"`
	RewrittenText   *string                       `json:"rewritten_text,omitempty"`
	Exempted        bool                          `json:"exempted,omitempty"`
	ExemptionReason string                        `json:"exemption_reason,omitempty"`
	// Evidence merges class findings in Order, capped at Config.MaxEvidence.
	Evidence       []Finding     `json:"evidence,omitempty"`
	Diagnostics    []Diagnostic  `json:"diagnostics,omitempty"`
	Incident       *Incident     `json:"incident,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Class returns the outcome for c, or nil when c was not evaluated.
func (o *Outcome) Class(c ThreatClass) *ClassOutcome {
	if o == nil {
		return nil
	}
	return o.Classes[c]
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}
