package guardrails

// DecideInjection applies the injection ladder.
func DecideInjection(score float64, t Thresholds) Recommendation {
	switch {
	case score > t.Injection:
		return RecommendBlock
	case score > t.InjectionSanitize:
		return RecommendSanitize
	case score > t.InjectionFlag:
		return RecommendFlag
	default:
		return RecommendAllow
	}
}

// DecideJailbreak applies the jailbreak ladder.
func DecideJailbreak(score, conversationRisk float64, t Thresholds) Recommendation {
	switch {
	case score > t.Jailbreak:
		return RecommendBlock
	case conversationRisk > t.ConversationWarn:
		return RecommendWarn
	default:
		return RecommendAllow
	}
}

// DecideDataLeak applies the data-leak ladder.
func DecideDataLeak(riskScore float64, t Thresholds) Recommendation {
	switch {
	case riskScore > t.DataLeakBlock:
		return RecommendBlock
	case riskScore > t.DataLeakRedact:
		return RecommendRedact
	default:
		return RecommendAllow
	}
}

// IsSafe reports whether toxicity stays at or below the threshold.
func IsSafe(toxicity float64, t Thresholds) bool {
	return !(toxicity > t.Toxicity)
}

// DecideContentSafety applies the toxicity ladder.
func DecideContentSafety(isSafe bool, toxicity float64, t Thresholds) Recommendation {
	switch {
	case !isSafe && toxicity > t.ToxicityBlock:
		return RecommendBlock
	case !isSafe:
		return RecommendWarn
	default:
		return RecommendAllow
	}
}

// DecideBias applies the bias ladder.
func DecideBias(hasBias bool) Recommendation {
	if hasBias {
		return RecommendFlag
	}
	return RecommendAllow
}

// ConservativeAction is the recommendation used when a class could not be
// evaluated within the time budget.
func ConservativeAction(class ThreatClass) Recommendation {
	if class == ClassBias {
		return RecommendFlag
	}
	return RecommendBlock
}

// MostRestrictive returns the highest-ranked recommendation among outcomes
// and the class that produced it. Equal ranks keep the earliest outcome.
func MostRestrictive(outcomes ...*ClassOutcome) (Recommendation, ThreatClass) {
	best := RecommendAllow
	var by ThreatClass
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		if o.Recommendation.Rank() > best.Rank() {
			best = o.Recommendation
			by = o.Class
		}
	}
	return best, by
}
