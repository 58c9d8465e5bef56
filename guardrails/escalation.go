package guardrails

import (
	"context"
	"math"
)

// Escalation constants.
const (
	// EscalationMinPriorMatches is the number of matching prior turns that
	// must be exceeded before history contributes any risk.
	EscalationMinPriorMatches = 2
	// EscalationPerMatch is the risk added per matching prior turn.
	EscalationPerMatch = 0.2
	// ContextOverrideConfidence is the confidence of each override phrase.
	ContextOverrideConfidence = 0.8
)

// DefaultContextOverrideRules are the phrases checked in the current turn.
func DefaultContextOverrideRules() []Rule {
	return []Rule{
		{
			ID:          "forget-everything",
			Technique:   TechniqueContextManipulation,
			Pattern:     `(?i)\bforget\s+everything\b`,
			Confidence:  ContextOverrideConfidence,
			Description: "Attempt to make model forget context",
		},
		{
			ID:          "new-instructions",
			Technique:   TechniqueContextManipulation,
			Pattern:     `(?i)\bnew\s+instructions?\b`,
			Confidence:  ContextOverrideConfidence,
			Description: "Attempt to inject new instructions",
		},
		{
			ID:          "from-now-on",
			Technique:   TechniqueContextManipulation,
			Pattern:     `(?i)\bfrom\s+now\s+on\b`,
			Confidence:  ContextOverrideConfidence,
			Description: "Attempt to redefine behavior for the rest of the conversation",
		},
	}
}

// turnMatcher is the subset of PatternDetector used to scan history.
type turnMatcher interface {
	Matches(text string) bool
}

// Escalator attributes conversation-level risk from earlier user turns.
type Escalator struct {
	matchers  []turnMatcher
	overrides *PatternDetector
}

// NewEscalator creates an escalator that counts prior user turns matched by
// any of the given detectors or by a context-override phrase.
func NewEscalator(detectors ...*PatternDetector) (*Escalator, error) {
	overrides, err := NewPatternDetector(ClassInjection, "context-overrides", DefaultContextOverrideRules())
	if err != nil {
		return nil, err
	}
	e := &Escalator{overrides: overrides}
	for _, d := range detectors {
		if d != nil {
			e.matchers = append(e.matchers, d)
		}
	}
	e.matchers = append(e.matchers, overrides)
	return e, nil
}

// PriorMatches counts user turns with at least one injection match.
func (e *Escalator) PriorMatches(ctx context.Context, history []Turn) (int, error) {
	count := 0
	for _, t := range history {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if t.Role != "user" || t.Content == "" {
			continue
		}
		for _, m := range e.matchers {
			if m.Matches(t.Content) {
				count++
				break
			}
		}
	}
	return count, nil
}

// Adjustment maps a prior match count to conversation risk. It is zero up
// to EscalationMinPriorMatches and non-decreasing in count.
func Adjustment(count int) float64 {
	if count <= EscalationMinPriorMatches {
		return 0
	}
	return math.Min(1, EscalationPerMatch*float64(count))
}

// Escalate returns the adjusted class score and the conversation risk.
func (e *Escalator) Escalate(ctx context.Context, history []Turn, current float64) (adjusted, risk float64, prior int, err error) {
	prior, err = e.PriorMatches(ctx, history)
	if err != nil {
		return current, 0, 0, err
	}
	risk = Adjustment(prior)
	return math.Max(current, risk), risk, prior, nil
}

// ContextOverrides returns one context-manipulation finding per override
// phrase occurrence in text.
func (e *Escalator) ContextOverrides(ctx context.Context, text string) ([]Finding, error) {
	return e.overrides.Detect(ctx, text)
}
