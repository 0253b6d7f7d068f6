package predict

import "github.com/olp-runtime/olp/olp/trace"

// Rule-based scorer constants. The TTID pairs are predicted time-to-completion
// on PIM versus CPU for a regular (streaming) and an irregular window.
const (
	DefaultMinHistory     = 10
	DefaultFailurePenalty = 0.9

	minScorableStrides  = 3    // fewer strides than this cannot be scored
	regularityThreshold = 0.75 // fraction of strides that must match the dominant stride
	highConfidence      = 0.99995
	lowConfidence       = 0.70
	ttidPIMRegular      = 90.0
	ttidCPURegular      = 150.0
	ttidPIMIrregular    = 105.0
	ttidCPUIrregular    = 110.0
	penaltyRecoveryStep = 0.01
)

// RuleBasedScorer predicts high confidence for windows with enough history and
// a dominant non-zero stride, and low confidence otherwise. Each scope carries
// a multiplicative penalty lowered by failures and slowly restored by successes.
type RuleBasedScorer struct {
	minHistory     int
	failurePenalty float64
	penalty        map[int64]float64 // scope ID → confidence multiplier in (0,1]
}

// NewRuleBasedScorer creates a RuleBasedScorer. Non-positive arguments select
// DefaultMinHistory and DefaultFailurePenalty.
func NewRuleBasedScorer(minHistory int, failurePenalty float64) *RuleBasedScorer {
	if minHistory <= 0 {
		minHistory = DefaultMinHistory
	}
	if failurePenalty <= 0 || failurePenalty >= 1 {
		failurePenalty = DefaultFailurePenalty
	}
	return &RuleBasedScorer{
		minHistory:     minHistory,
		failurePenalty: failurePenalty,
		penalty:        make(map[int64]float64),
	}
}

// ttidGain converts predicted PIM and CPU completion times into a relative gain.
func ttidGain(pim, cpu float64) float64 {
	if cpu == 0 {
		cpu = 1
	}
	return 1 - pim/cpu
}

// Predict implements Model.
func (r *RuleBasedScorer) Predict(window []trace.Record) Result {
	f := extractFeatures(window)
	if f.n < minScorableStrides {
		return Result{}
	}
	if len(window) >= r.minHistory && f.dominant != 0 && f.regularity >= regularityThreshold {
		return Result{
			Confidence:    highConfidence * r.multiplier(window[0].ScopeID),
			PredictedGain: ttidGain(ttidPIMRegular, ttidCPURegular),
		}
	}
	return Result{
		Confidence:    lowConfidence * r.multiplier(window[0].ScopeID),
		PredictedGain: ttidGain(ttidPIMIrregular, ttidCPUIrregular),
	}
}

func (r *RuleBasedScorer) multiplier(scope int64) float64 {
	if m, ok := r.penalty[scope]; ok {
		return m
	}
	return 1
}

// Feedback implements Model.
func (r *RuleBasedScorer) Feedback(fb Feedback) {
	m := r.multiplier(fb.ScopeID)
	switch fb.Outcome {
	case OutcomeFailure:
		m *= r.failurePenalty
	default:
		m = min(1, m+penaltyRecoveryStep)
	}
	r.penalty[fb.ScopeID] = m
}

// Penalty returns the current confidence multiplier for scope.
func (r *RuleBasedScorer) Penalty(scope int64) float64 { return r.multiplier(scope) }
