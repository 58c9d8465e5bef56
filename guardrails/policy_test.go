package guardrails

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestDecideLadders(t *testing.T) {
	th := DefaultThresholds()

	t.Run("injection", func(t *testing.T) {
		assert.Equal(t, RecommendBlock, DecideInjection(0.95, th))
		assert.Equal(t, RecommendSanitize, DecideInjection(0.7, th))
		assert.Equal(t, RecommendSanitize, DecideInjection(0.6, th))
		assert.Equal(t, RecommendFlag, DecideInjection(0.5, th))
		assert.Equal(t, RecommendFlag, DecideInjection(0.31, th))
		assert.Equal(t, RecommendAllow, DecideInjection(0.3, th))
		assert.Equal(t, RecommendAllow, DecideInjection(0, th))
	})

	t.Run("jailbreak", func(t *testing.T) {
		assert.Equal(t, RecommendBlock, DecideJailbreak(0.9, 0, th))
		assert.Equal(t, RecommendAllow, DecideJailbreak(0.75, 0, th))
		assert.Equal(t, RecommendWarn, DecideJailbreak(0.2, 0.6, th))
		assert.Equal(t, RecommendAllow, DecideJailbreak(0.2, 0.5, th))
	})

	t.Run("data leak", func(t *testing.T) {
		assert.Equal(t, RecommendBlock, DecideDataLeak(0.8, th))
		assert.Equal(t, RecommendRedact, DecideDataLeak(0.7, th))
		assert.Equal(t, RecommendRedact, DecideDataLeak(0.6, th))
		assert.Equal(t, RecommendAllow, DecideDataLeak(0.3, th))
	})

	t.Run("content safety", func(t *testing.T) {
		assert.True(t, IsSafe(0.6, th))
		assert.False(t, IsSafe(0.61, th))
		assert.Equal(t, RecommendBlock, DecideContentSafety(false, 0.8, th))
		assert.Equal(t, RecommendWarn, DecideContentSafety(false, 0.7, th))
		assert.Equal(t, RecommendAllow, DecideContentSafety(true, 0.4, th))
	})

	t.Run("bias", func(t *testing.T) {
		assert.Equal(t, RecommendFlag, DecideBias(true))
		assert.Equal(t, RecommendAllow, DecideBias(false))
	})
}

func TestMostRestrictive(t *testing.T) {
	rec, by := MostRestrictive(
		&ClassOutcome{Class: ClassInjection, Recommendation: RecommendFlag},
		&ClassOutcome{Class: ClassJailbreak, Recommendation: RecommendSanitize},
		nil,
		&ClassOutcome{Class: ClassDataLeak, Recommendation: RecommendRedact},
		&ClassOutcome{Class: ClassBias, Recommendation: RecommendWarn},
	)
	assert.Equal(t, RecommendSanitize, rec)
	assert.Equal(t, ClassJailbreak, by)

	rec, by = MostRestrictive()
	assert.Equal(t, RecommendAllow, rec)
	assert.Empty(t, by)

	assert.Equal(t, RecommendBlock, ConservativeAction(ClassToxicity))
	assert.Equal(t, RecommendFlag, ConservativeAction(ClassBias))
}

// 分数恰好等于阈值时，与严格高于阈值的动作不同
func TestProperty_ThresholdBoundary(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		threshold := rapid.Float64Range(0.01, 0.98).Draw(rt, "threshold")
		above := math.Nextafter(threshold, 1)

		th := DefaultThresholds()
		th.Injection = threshold
		th.Jailbreak = threshold
		th.DataLeakBlock = threshold
		th.DataLeakRedact = threshold / 2

		if DecideInjection(threshold, th) == RecommendBlock {
			rt.Fatalf("injection score == threshold %v must not block", threshold)
		}
		if DecideInjection(above, th) != RecommendBlock {
			rt.Fatalf("injection score above threshold %v must block", threshold)
		}
		if DecideJailbreak(threshold, 0, th) == DecideJailbreak(above, 0, th) {
			rt.Fatalf("jailbreak boundary %v not strict", threshold)
		}
		if DecideDataLeak(threshold, th) == DecideDataLeak(above, th) {
			rt.Fatalf("data-leak boundary %v not strict", threshold)
		}
		if IsSafe(threshold, Thresholds{Toxicity: threshold}) == IsSafe(above, Thresholds{Toxicity: threshold}) {
			rt.Fatalf("toxicity boundary %v not strict", threshold)
		}
	})
}
