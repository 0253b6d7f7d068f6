package predict

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olp-runtime/olp/olp/internal/testutil"
	"github.com/olp-runtime/olp/olp/trace"
)

func TestAdapter_EmptyWindow_ReturnsZero(t *testing.T) {
	a := NewAdapter(NewFixedScorer(Result{Confidence: 0.9, PredictedGain: 1.5}))

	r := a.Predict(nil)

	assert.Equal(t, Result{}, r)
	assert.Equal(t, Result{}, a.Predict([]trace.Record{}))
}

func TestAdapter_SanitizesModelOutput(t *testing.T) {
	window := testutil.StridedWindow(1, 4, 0, 8)
	tests := []struct {
		name string
		in   Result
		want Result
	}{
		{"passes through valid", Result{0.9, 1.5}, Result{0.9, 1.5}},
		{"clamps confidence above one", Result{1.7, 0.2}, Result{1, 0.2}},
		{"clamps negative confidence", Result{-0.3, 0.2}, Result{0, 0.2}},
		{"NaN confidence", Result{math.NaN(), 0.2}, Result{}},
		{"Inf gain", Result{0.9, math.Inf(1)}, Result{}},
		{"negative gain kept", Result{0.9, -0.5}, Result{0.9, -0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(NewFixedScorer(tt.in))
			assert.Equal(t, tt.want, a.Predict(window))
		})
	}
}

func TestAdapter_NilModelPanics(t *testing.T) {
	assert.Panics(t, func() { NewAdapter(nil) })
}

func TestAdapter_FeedbackReachesModel(t *testing.T) {
	f := NewFixedScorer(Result{Confidence: 0.9, PredictedGain: 1})
	a := NewAdapter(f)

	a.Feedback(Feedback{ScopeID: 3, PredictedGain: 1, Outcome: OutcomeFailure})

	got := f.Received()
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].ScopeID)
	assert.Equal(t, OutcomeFailure, got[0].Outcome)
	assert.Same(t, f, a.Model())
}

func TestFixedScorer_RetainedFeedbackIsBounded(t *testing.T) {
	f := NewFixedScorer(Result{})

	for i := 0; i < 3*maxFixedFeedback; i++ {
		f.Feedback(Feedback{ScopeID: int64(i)})
	}

	got := f.Received()
	assert.LessOrEqual(t, len(got), maxFixedFeedback)
	assert.Equal(t, 3*maxFixedFeedback, f.Total())
	assert.Equal(t, int64(3*maxFixedFeedback-1), got[len(got)-1].ScopeID, "newest feedback is kept")
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].ScopeID+1, got[i].ScopeID, "retained feedback stays in order")
	}
}

func TestAdapter_ConcurrentPredictAndFeedback(t *testing.T) {
	a := NewAdapter(NewLearnedScorer(0, 0))
	window := testutil.StridedWindow(1, 17, 0x1000, 64)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r := a.Predict(window)
				assert.GreaterOrEqual(t, r.Confidence, 0.0)
				assert.LessOrEqual(t, r.Confidence, 1.0)
			}
		}()
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				outcome := OutcomeSuccess
				if (i+g)%3 == 0 {
					outcome = OutcomeFailure
				}
				a.Feedback(Feedback{ScopeID: 1, Outcome: outcome, Window: window})
			}
		}(g)
	}
	wg.Wait()
}

func TestNewModel_ByName(t *testing.T) {
	assert.IsType(t, &RuleBasedScorer{}, NewModel(ScorerConfig{}))
	assert.IsType(t, &RuleBasedScorer{}, NewModel(ScorerConfig{Name: "rule-based"}))
	assert.IsType(t, &LearnedScorer{}, NewModel(ScorerConfig{Name: "learned"}))

	fixed := NewModel(ScorerConfig{Name: "fixed", FixedConfidence: 0.9, FixedGain: 1.5})
	require.IsType(t, &FixedScorer{}, fixed)
	assert.Equal(t, Result{0.9, 1.5}, fixed.Predict(nil))

	assert.Panics(t, func() { NewModel(ScorerConfig{Name: "oracle"}) })
}

func TestValidModelNames_Sorted(t *testing.T) {
	assert.Equal(t, []string{"fixed", "learned", "rule-based"}, ValidModelNames())
	assert.True(t, IsValidModel(""))
	assert.False(t, IsValidModel("lstm"))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "failure", OutcomeFailure.String())
}
