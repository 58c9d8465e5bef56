package guardrails

import (
	"context"
	"fmt"
)

// Scorer produces a toxicity score in [0,1]. It is the extension point for
// replacing keyword matching with a statistical or model-based classifier.
type Scorer interface {
	Score(ctx context.Context, text string) (float64, []Finding, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, text string) (float64, []Finding, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, text string) (float64, []Finding, error) {
	return f(ctx, text)
}

// DefaultToxicityPerMatch is the score added per keyword match.
const DefaultToxicityPerMatch = 0.2

// DefaultToxicityRules returns the built-in toxicity keyword rules.
func DefaultToxicityRules() []Rule {
	return []Rule{
		{
			ID:          "insult",
			Technique:   "insult",
			Pattern:     `(?i)\b(idiot|stupid|moron|imbecile|loser|pathetic|worthless)\b`,
			Confidence:  DefaultToxicityPerMatch,
			Description: "Insulting language",
		},
		{
			ID:          "threat",
			Technique:   "threat",
			Pattern:     `(?i)\b(kill|hurt|destroy|attack|beat)\s+(you|him|her|them)\b`,
			Confidence:  DefaultToxicityPerMatch,
			Description: "Threatening language",
		},
		{
			ID:          "hate",
			Technique:   "hate",
			Pattern:     `(?i)\b(hate|despise|loathe)\s+(you|them|all\s+of\s+you)\b`,
			Confidence:  DefaultToxicityPerMatch,
			Description: "Hateful language",
		},
		{
			ID:          "harassment",
			Technique:   "harassment",
			Pattern:     `(?i)\b(shut\s+up|nobody\s+likes\s+you|go\s+away)\b`,
			Confidence:  DefaultToxicityPerMatch,
			Description: "Harassing language",
		},
		{
			ID:          "profanity",
			Technique:   "profanity",
			Pattern:     `(?i)\b(damn|crap|shit\w*|fuck\w*|bastard)\b`,
			Confidence:  DefaultToxicityPerMatch,
			Description: "Profanity",
		},
	}
}

// NewToxicityDetector builds the default toxicity keyword detector.
func NewToxicityDetector() (*PatternDetector, error) {
	return NewPatternDetector(ClassToxicity, "toxicity-keywords", DefaultToxicityRules())
}

// KeywordScorer adds a fixed amount per matched keyword, capped at 1.
type KeywordScorer struct {
	detectors []Detector
	perMatch  float64
}

// NewKeywordScorer creates a scorer over the given detectors. A perMatch
// outside (0,1] falls back to DefaultToxicityPerMatch.
func NewKeywordScorer(perMatch float64, detectors ...Detector) *KeywordScorer {
	if perMatch <= 0 || perMatch > 1 {
		perMatch = DefaultToxicityPerMatch
	}
	return &KeywordScorer{detectors: detectors, perMatch: perMatch}
}

// Score implements Scorer.
func (s *KeywordScorer) Score(ctx context.Context, text string) (float64, []Finding, error) {
	var findings []Finding
	for _, d := range s.detectors {
		f, err := d.Detect(ctx, text)
		if err != nil {
			return 0, nil, fmt.Errorf("detector %s: %w", d.Name(), err)
		}
		findings = append(findings, f...)
	}
	score := s.perMatch * float64(len(findings))
	if score > 1 {
		score = 1
	}
	return score, findings, nil
}
