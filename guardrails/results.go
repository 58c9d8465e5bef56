package guardrails

import (
	"context"
	"time"
)

// ScanRequest is the common shape of the single-class requests.
type ScanRequest struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Direction Direction      `json:"direction,omitempty"`
	History   []Turn         `json:"history,omitempty"`
	Context   RequestContext `json:"context,omitempty"`
}

type (
	PromptAnalysisRequest = ScanRequest
	DataLeakScanRequest   = ScanRequest
	ContentSafetyRequest  = ScanRequest
	BiasDetectionRequest  = ScanRequest
)

// ResultMeta is shared by every single-class result.
type ResultMeta struct {
	RequestID      string         `json:"request_id"`
	Recommendation Recommendation `json:"recommendation"`
	Message        string         `json:"message,omitempty"`
	Exempted       bool           `json:"exempted,omitempty"`
	Diagnostics    []Diagnostic   `json:"diagnostics,omitempty"`
	Incident       *Incident      `json:"incident,omitempty"`
	ProcessingTime time.Duration  `json:"processing_time"`
}

// PromptInjectionResult 提示注入检测结果
type PromptInjectionResult struct {
	ResultMeta
	Detected         bool      `json:"detected"`
	Score            float64   `json:"score"`
	Confidence       float64   `json:"confidence"`
	InjectionType    string    `json:"injection_type,omitempty"`
	Techniques       []string  `json:"techniques,omitempty"`
	Evidence         []Finding `json:"evidence,omitempty"`
	SanitizedText    *string   `json:"sanitized_text,omitempty"`
	ConversationRisk float64   `json:"conversation_risk"`
	PriorMatches     int       `json:"prior_matches"`
}

// JailbreakResult 越狱检测结果
type JailbreakResult struct {
	ResultMeta
	Detected         bool      `json:"detected"`
	Score            float64   `json:"score"`
	Confidence       float64   `json:"confidence"`
	Technique        string    `json:"technique,omitempty"`
	PatternIDs       []string  `json:"pattern_ids,omitempty"`
	Evidence         []Finding `json:"evidence,omitempty"`
	ConversationRisk float64   `json:"conversation_risk"`
	PriorMatches     int       `json:"prior_matches"`
}

// DataLeakResult 数据泄露扫描结果
type DataLeakResult struct {
	ResultMeta
	HasLeaks     bool       `json:"has_leaks"`
	RiskScore    float64    `json:"risk_score"`
	Confidence   float64    `json:"confidence"`
	Categories   []string   `json:"categories,omitempty"`
	Leaks        []LeakItem `json:"leaks,omitempty"`
	RedactedText *string    `json:"redacted_text,omitempty"`
}

// ContentSafetyResult 内容安全检测结果
type ContentSafetyResult struct {
	ResultMeta
	IsSafe     bool      `json:"is_safe"`
	Detected   bool      `json:"detected"`
	Toxicity   float64   `json:"toxicity"`
	Confidence float64   `json:"confidence"`
	Categories []string  `json:"categories,omitempty"`
	Evidence   []Finding `json:"evidence,omitempty"`
}

// BiasDetectionResult 偏见检测结果
type BiasDetectionResult struct {
	ResultMeta
	HasBias    bool      `json:"has_bias"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	BiasTypes  []string  `json:"bias_types,omitempty"`
	Evidence   []Finding `json:"evidence,omitempty"`
}

// AnalyzePromptInjection evaluates only the injection class.
func (e *Engine) AnalyzePromptInjection(ctx context.Context, req PromptAnalysisRequest) (*PromptInjectionResult, error) {
	out, co, err := e.evaluateOne(ctx, req, ClassInjection)
	if err != nil {
		return nil, err
	}
	return &PromptInjectionResult{
		ResultMeta:       meta(out),
		Detected:         co.Detected,
		Score:            co.Score,
		Confidence:       co.Confidence,
		InjectionType:    co.Technique,
		Techniques:       Techniques(co.Findings),
		Evidence:         co.Findings,
		SanitizedText:    out.RewrittenText,
		ConversationRisk: co.ConversationRisk,
		PriorMatches:     co.PriorMatches,
	}, nil
}

// DetectJailbreak evaluates only the jailbreak class.
func (e *Engine) DetectJailbreak(ctx context.Context, req PromptAnalysisRequest) (*JailbreakResult, error) {
	out, co, err := e.evaluateOne(ctx, req, ClassJailbreak)
	if err != nil {
		return nil, err
	}
	return &JailbreakResult{
		ResultMeta:       meta(out),
		Detected:         co.Detected,
		Score:            co.Score,
		Confidence:       co.Confidence,
		Technique:        co.Technique,
		PatternIDs:       PatternIDs(co.Findings),
		Evidence:         co.Findings,
		ConversationRisk: co.ConversationRisk,
		PriorMatches:     co.PriorMatches,
	}, nil
}

// ScanDataLeaks evaluates only the data-leak class.
func (e *Engine) ScanDataLeaks(ctx context.Context, req DataLeakScanRequest) (*DataLeakResult, error) {
	out, co, err := e.evaluateOne(ctx, req, ClassDataLeak)
	if err != nil {
		return nil, err
	}
	return &DataLeakResult{
		ResultMeta:   meta(out),
		HasLeaks:     len(co.Leaks) > 0,
		RiskScore:    co.Score,
		Confidence:   co.Confidence,
		Categories:   LeakCategories(co.Leaks),
		Leaks:        co.Leaks,
		RedactedText: out.RewrittenText,
	}, nil
}

// CheckContentSafety evaluates only the toxicity class.
func (e *Engine) CheckContentSafety(ctx context.Context, req ContentSafetyRequest) (*ContentSafetyResult, error) {
	out, co, err := e.evaluateOne(ctx, req, ClassToxicity)
	if err != nil {
		return nil, err
	}
	safe := IsSafe(co.Score, e.cfg.Thresholds) && co.Technique != TechniqueDetectorTimeout
	return &ContentSafetyResult{
		ResultMeta: meta(out),
		IsSafe:     safe,
		Detected:   co.Detected,
		Toxicity:   co.Score,
		Confidence: co.Confidence,
		Categories: Techniques(co.Findings),
		Evidence:   co.Findings,
	}, nil
}

// DetectBias evaluates only the bias class.
func (e *Engine) DetectBias(ctx context.Context, req BiasDetectionRequest) (*BiasDetectionResult, error) {
	out, co, err := e.evaluateOne(ctx, req, ClassBias)
	if err != nil {
		return nil, err
	}
	return &BiasDetectionResult{
		ResultMeta: meta(out),
		HasBias:    len(co.Findings) > 0,
		Score:      co.Score,
		Confidence: co.Confidence,
		BiasTypes:  Techniques(co.Findings),
		Evidence:   co.Findings,
	}, nil
}

// evaluateOne runs the full pipeline for one class. A disabled class yields
// an allow outcome with detected=false.
func (e *Engine) evaluateOne(ctx context.Context, req ScanRequest, class ThreatClass) (*Outcome, *ClassOutcome, error) {
	out, err := e.Evaluate(ctx, &DetectionRequest{
		ID:        req.ID,
		Text:      req.Text,
		Direction: req.Direction,
		History:   req.History,
		Context:   req.Context,
		Classes:   []ThreatClass{class},
	})
	if err != nil {
		return nil, nil, err
	}
	co := out.Class(class)
	if co == nil {
		co = &ClassOutcome{Class: class, Recommendation: RecommendAllow}
	}
	return out, co, nil
}

func meta(out *Outcome) ResultMeta {
	return ResultMeta{
		RequestID:      out.RequestID,
		Recommendation: out.Recommendation,
		Message:        out.Message,
		Exempted:       out.Exempted,
		Diagnostics:    out.Diagnostics,
		Incident:       out.Incident,
		ProcessingTime: out.ProcessingTime,
	}
}
