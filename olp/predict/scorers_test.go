package predict

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/olp-runtime/olp/olp/internal/testutil"
)

func TestRuleBasedScorer_RegularWindowWithHistory_HighConfidence(t *testing.T) {
	// GIVEN a window of 12 accesses with a constant 8-byte stride
	s := NewRuleBasedScorer(0, 0)
	window := testutil.StridedWindow(7, 12, 0x1000, 8)

	// WHEN scored
	r := s.Predict(window)

	// THEN confidence is high and the gain is 1 - 90/150
	assert.Equal(t, highConfidence, r.Confidence)
	assert.InDelta(t, 0.4, r.PredictedGain, 1e-12)
}

func TestRuleBasedScorer_WarmupWindow_LowConfidence(t *testing.T) {
	s := NewRuleBasedScorer(0, 0)

	r := s.Predict(testutil.StridedWindow(7, 5, 0x1000, 8))

	assert.Equal(t, lowConfidence, r.Confidence)
	assert.InDelta(t, 1-105.0/110.0, r.PredictedGain, 1e-12)
}

func TestRuleBasedScorer_IrregularWindow_LowConfidence(t *testing.T) {
	s := NewRuleBasedScorer(0, 0)

	r := s.Predict(testutil.IrregularWindow(7, 12))

	assert.Equal(t, lowConfidence, r.Confidence)
}

func TestRuleBasedScorer_TooFewStrides_Unscorable(t *testing.T) {
	s := NewRuleBasedScorer(0, 0)

	assert.Equal(t, Result{}, s.Predict(testutil.StridedWindow(7, 3, 0, 8)))
	assert.Equal(t, Result{}, s.Predict(testutil.StridedWindow(7, 1, 0, 8)))
}

func TestRuleBasedScorer_ZeroStride_NotStreaming(t *testing.T) {
	s := NewRuleBasedScorer(0, 0)

	r := s.Predict(testutil.StridedWindow(7, 12, 0x40, 0))

	assert.Equal(t, lowConfidence, r.Confidence)
}

func TestRuleBasedScorer_FailurePenalizesOnlyThatScope(t *testing.T) {
	s := NewRuleBasedScorer(10, 0.5)
	windowA := testutil.StridedWindow(1, 12, 0, 8)
	windowB := testutil.StridedWindow(2, 12, 0, 8)

	s.Feedback(Feedback{ScopeID: 1, Outcome: OutcomeFailure})

	assert.InDelta(t, highConfidence*0.5, s.Predict(windowA).Confidence, 1e-12)
	assert.Equal(t, highConfidence, s.Predict(windowB).Confidence)

	// successes slowly restore the multiplier, capped at 1
	s.Feedback(Feedback{ScopeID: 1, Outcome: OutcomeSuccess})
	assert.InDelta(t, 0.51, s.Penalty(1), 1e-12)
	s.Feedback(Feedback{ScopeID: 2, Outcome: OutcomeSuccess})
	assert.Equal(t, 1.0, s.Penalty(2))
}

func TestRuleBasedScorer_Defaults(t *testing.T) {
	s := NewRuleBasedScorer(-1, 1.5)
	assert.Equal(t, DefaultMinHistory, s.minHistory)
	assert.Equal(t, DefaultFailurePenalty, s.failurePenalty)
}

func TestLearnedScorer_RegularWindow_ScoresAboveIrregular(t *testing.T) {
	s := NewLearnedScorer(0, 0)

	regular := s.Predict(testutil.StridedWindow(1, 17, 0x1000, 64))
	irregular := s.Predict(testutil.IrregularWindow(1, 17))

	// z = -2 + 3 + 2 + 1 = 4 for a perfectly regular, full window
	assert.InDelta(t, 1/(1+math.Exp(-4)), regular.Confidence, 1e-12)
	assert.InDelta(t, DefaultBaseGain, regular.PredictedGain, 1e-12)
	assert.Less(t, irregular.Confidence, regular.Confidence)
	assert.Less(t, irregular.PredictedGain, regular.PredictedGain)
}

func TestLearnedScorer_Deterministic(t *testing.T) {
	s := NewLearnedScorer(0, 0)
	window := testutil.IrregularWindow(3, 10)

	assert.Equal(t, s.Predict(window), s.Predict(window))
}

func TestLearnedScorer_FailureFeedback_LowersThatScopeMost(t *testing.T) {
	// GIVEN two scopes with identical regular windows
	s := NewLearnedScorer(0.5, 0)
	windowA := testutil.StridedWindow(1, 17, 0, 8)
	windowB := testutil.StridedWindow(2, 17, 0, 8)
	before := s.Predict(windowA)

	// WHEN scope 1 reports repeated failures
	for i := 0; i < 5; i++ {
		s.Feedback(Feedback{ScopeID: 1, Outcome: OutcomeFailure, Window: windowA})
	}

	// THEN scope 1's confidence and gain drop below scope 2's
	afterA := s.Predict(windowA)
	afterB := s.Predict(windowB)
	assert.Less(t, afterA.Confidence, before.Confidence)
	assert.Less(t, afterA.Confidence, afterB.Confidence)
	assert.Less(t, afterA.PredictedGain, afterB.PredictedGain)
	assert.Equal(t, 5, s.Updates())
}

func TestLearnedScorer_FeedbackWithoutWindow_StillPenalizes(t *testing.T) {
	s := NewLearnedScorer(0, 0)
	window := testutil.StridedWindow(4, 17, 0, 8)
	before := s.Predict(window)

	s.Feedback(Feedback{ScopeID: 4, Outcome: OutcomeFailure})

	assert.Less(t, s.Predict(window).Confidence, before.Confidence)
}

func TestLearnedScorer_SingleRecord_Unscorable(t *testing.T) {
	s := NewLearnedScorer(0, 0)
	assert.Equal(t, Result{}, s.Predict(testutil.StridedWindow(1, 1, 0, 8)))
}

func TestExtractFeatures_Regularity(t *testing.T) {
	f := extractFeatures(testutil.StridedWindow(1, 5, 100, 4))
	assert.Equal(t, 4, f.n)
	assert.Equal(t, 4.0, f.dominant)
	assert.Equal(t, 1.0, f.regularity)
	assert.Equal(t, 1.0, f.stability)
	assert.InDelta(t, 4.0/maxStrides, f.fill, 1e-12)

	// only the newest maxStrides strides are inspected
	long := extractFeatures(testutil.StridedWindow(1, 40, 0, 8))
	assert.Equal(t, maxStrides, long.n)
	assert.Equal(t, 1.0, long.fill)
}

func TestStrides_NegativeDeltas(t *testing.T) {
	s := strides(testutil.StridedWindow(1, 3, 100, 0))
	assert.Equal(t, []float64{0, 0}, s)

	window := testutil.StridedWindow(1, 3, 100, 8)
	window[2].Address = 90
	assert.Equal(t, []float64{8, -18}, strides(window))
}
