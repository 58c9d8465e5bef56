package guardrails

// DefaultJailbreakRules returns the named jailbreak patterns. Rule ID and
// technique are both the pattern name.
func DefaultJailbreakRules() []Rule {
	return []Rule{
		{
			ID:          "dan",
			Technique:   "dan",
			Pattern:     `\bDAN\b|(?i:\bdan\s+mode\b|\bdo\s+anything\s+now\b)`,
			Confidence:  0.9,
			Description: "DAN (Do Anything Now) jailbreak",
		},
		{
			ID:          "developer-mode",
			Technique:   "developer-mode",
			Pattern:     `(?i)\b(enable\s+)?developer\s+mode\b`,
			Confidence:  0.85,
			Description: "Developer mode jailbreak",
		},
		{
			ID:          "evil-confidant",
			Technique:   "evil-confidant",
			Pattern:     `(?i)\bevil\s+(confidant|confidante|assistant|twin)\b`,
			Confidence:  0.85,
			Description: "Evil confidant persona",
		},
		{
			ID:          "aim",
			Technique:   "aim",
			Pattern:     `\bAIM\b|(?i:always\s+intelligent\s+and\s+machiavellian)`,
			Confidence:  0.8,
			Description: "AIM (Always Intelligent and Machiavellian) persona",
		},
		{
			ID:          "no-restrictions",
			Technique:   "no-restrictions",
			Pattern:     `(?i)\b(no|without|free\s+(from|of))\s+(any\s+)?(restrictions|limitations|filters|censorship|content\s+polic(y|ies))\b`,
			Confidence:  0.8,
			Description: "Request to drop restrictions",
		},
		{
			ID:          "explicit-jailbreak",
			Technique:   "explicit-jailbreak",
			Pattern:     `(?i)\bjailbr(eak|oken|eaking)\b`,
			Confidence:  0.75,
			Description: "Explicit jailbreak mention",
		},
		{
			ID:          "opposite-mode",
			Technique:   "opposite-mode",
			Pattern:     `(?i)\b(opposite|reverse|anti)\s*-?\s*mode\b|\bantigpt\b`,
			Confidence:  0.7,
			Description: "Opposite mode persona",
		},
		{
			ID:          "roleplay-bypass",
			Technique:   "roleplay-bypass",
			Pattern:     `(?i)\blet'?s\s+(play|role-?play)\s+a\s+game\b|\bstay\s+in\s+character\b`,
			Confidence:  0.65,
			Description: "Roleplay framing used to bypass policy",
		},
		{
			ID:          "hypothetical-bypass",
			Technique:   "hypothetical-bypass",
			Pattern:     `(?i)\bhypothetically\b|\bin\s+a\s+(hypothetical|fictional)\s+(world|scenario|universe)\b`,
			Confidence:  0.6,
			Description: "Hypothetical framing used to bypass policy",
		},
	}
}

// NewJailbreakDetector builds the default jailbreak detector.
func NewJailbreakDetector() (*PatternDetector, error) {
	return NewPatternDetector(ClassJailbreak, "jailbreak-patterns", DefaultJailbreakRules())
}

// ScoreJailbreak returns the maximum confidence and its pattern id.
func ScoreJailbreak(findings []Finding) (float64, string) {
	return maxConfidence(findings)
}

// PatternIDs returns the distinct rule ids in finding order.
func PatternIDs(findings []Finding) []string {
	return distinct(findings, func(f Finding) string { return f.RuleID })
}

// Techniques returns the distinct techniques in finding order.
func Techniques(findings []Finding) []string {
	return distinct(findings, func(f Finding) string { return f.Technique })
}

func distinct(findings []Finding, key func(Finding) string) []string {
	seen := make(map[string]struct{}, len(findings))
	var out []string
	for _, f := range findings {
		k := key(f)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
