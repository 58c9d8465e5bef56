package guardrails

// DefaultBiasRules returns the built-in bias rules, one category each.
func DefaultBiasRules() []Rule {
	return []Rule{
		{
			ID:          "gender",
			Technique:   "gender",
			Pattern:     `(?i)\b(women|men|girls|boys|females|males)\s+(are\s+(naturally\s+|always\s+|just\s+)?(worse|inferior|too\s+emotional|not\s+capable|bad\s+at)|can'?t|cannot|shouldn'?t)\b`,
			Confidence:  0.7,
			Description: "Gender stereotype",
		},
		{
			ID:          "racial",
			Technique:   "racial",
			Pattern:     `(?i)\b(all|those|these)\s+(blacks|whites|asians|hispanics|latinos|immigrants|foreigners)\s+are\b`,
			Confidence:  0.75,
			Description: "Racial or ethnic generalization",
		},
		{
			ID:          "age",
			Technique:   "age",
			Pattern:     `(?i)\b(old|older|elderly|young|younger)\s+(people|workers|employees|candidates)\s+(are|can'?t|cannot)\b|\btoo\s+old\s+to\b`,
			Confidence:  0.65,
			Description: "Age stereotype",
		},
		{
			ID:          "religious",
			Technique:   "religious",
			Pattern:     `(?i)\b(all\s+)?(muslims|christians|jews|hindus|buddhists|atheists)\s+are\b`,
			Confidence:  0.7,
			Description: "Religious generalization",
		},
		{
			ID:          "disability",
			Technique:   "disability",
			Pattern:     `(?i)\b(disabled|handicapped|autistic|blind|deaf)\s+people\s+(are|can'?t|cannot)\b`,
			Confidence:  0.6,
			Description: "Disability stereotype",
		},
	}
}

// NewBiasDetector builds the default bias detector.
func NewBiasDetector() (*PatternDetector, error) {
	return NewPatternDetector(ClassBias, "bias-patterns", DefaultBiasRules())
}

// ScoreBias returns the mean confidence of findings, or 0 when there are none.
func ScoreBias(findings []Finding) float64 {
	if len(findings) == 0 {
		return 0
	}
	var sum float64
	for _, f := range findings {
		sum += f.Confidence
	}
	return sum / float64(len(findings))
}
