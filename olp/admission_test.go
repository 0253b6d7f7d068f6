package olp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/olp-runtime/olp/olp/predict"
)

func TestTrustGainAdmission_Admit(t *testing.T) {
	policy := NewTrustGainAdmission(Thresholds{Confidence: 0.8, Gain: 0.0}, nil)
	ec := ExecutionContext{FunctionName: "f", ScopeID: 1}

	tests := []struct {
		name     string
		pred     predict.Result
		floor    float64
		admitted bool
		reason   string
	}{
		{"both satisfied", predict.Result{Confidence: 0.9, PredictedGain: 1.5}, 0, true, ReasonAdmitted},
		{"confidence equal to threshold", predict.Result{Confidence: 0.8, PredictedGain: 1}, 0, true, ReasonAdmitted},
		{"gain equal to threshold", predict.Result{Confidence: 0.9, PredictedGain: 0}, 0, false, ReasonLowGain},
		{"low confidence reported before low gain", predict.Result{Confidence: 0.5, PredictedGain: 0}, 0, false, ReasonLowConfidence},
		{"NaN confidence", predict.Result{Confidence: math.NaN(), PredictedGain: 1}, 0, false, ReasonLowConfidence},
		{"NaN gain", predict.Result{Confidence: 0.9, PredictedGain: math.NaN()}, 0, false, ReasonLowGain},
		{"floor above threshold", predict.Result{Confidence: 0.9, PredictedGain: 1}, 0.99999, false, ReasonLowConfidence},
		{"floor below threshold is ignored", predict.Result{Confidence: 0.85, PredictedGain: 1}, 0.5, true, ReasonAdmitted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admitted, reason := policy.Admit(ec, tt.pred, tt.floor)
			if admitted != tt.admitted {
				t.Errorf("admitted = %v, want %v", admitted, tt.admitted)
			}
			if reason != tt.reason {
				t.Errorf("reason = %q, want %q", reason, tt.reason)
			}
		})
	}
}

func TestTrustGainAdmission_ScopeOverride(t *testing.T) {
	overrides := map[int64]Thresholds{2: {Confidence: 0.5, Gain: 0.3}}
	policy := NewTrustGainAdmission(Thresholds{Confidence: 0.8}, overrides)
	pred := predict.Result{Confidence: 0.6, PredictedGain: 0.2}

	admitted, _ := policy.Admit(ExecutionContext{FunctionName: "f", ScopeID: 1}, pred, 0)
	assert.False(t, admitted)

	admitted, reason := policy.Admit(ExecutionContext{FunctionName: "f", ScopeID: 2}, pred, 0)
	assert.False(t, admitted)
	assert.Equal(t, ReasonLowGain, reason)

	// overrides are copied at construction
	overrides[2] = Thresholds{}
	assert.Equal(t, Thresholds{Confidence: 0.5, Gain: 0.3}, policy.ThresholdsFor(2))
}

func TestCPUOnly_NeverAdmits(t *testing.T) {
	admitted, reason := (&CPUOnly{}).Admit(ExecutionContext{}, predict.Result{Confidence: 1, PredictedGain: 10}, 0)
	assert.False(t, admitted)
	assert.Equal(t, ReasonCPUOnly, reason)
}

func TestNewAdmissionPolicy_ByName(t *testing.T) {
	assert.IsType(t, &TrustGainAdmission{}, NewAdmissionPolicy("", Thresholds{}, nil))
	assert.IsType(t, &TrustGainAdmission{}, NewAdmissionPolicy("trust-gain", Thresholds{}, nil))
	assert.IsType(t, &CPUOnly{}, NewAdmissionPolicy("cpu-only", Thresholds{}, nil))
	assert.Panics(t, func() { NewAdmissionPolicy("always", Thresholds{}, nil) })
}
