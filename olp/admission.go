package olp

import (
	"fmt"
	"math"

	"github.com/olp-runtime/olp/olp/predict"
)

// Admission reasons. Bounded set, also used as metric attributes.
const (
	ReasonAdmitted      = "admitted"
	ReasonLowConfidence = "low-confidence"
	ReasonLowGain       = "low-gain"
	ReasonNoCheckpoint  = "no-checkpoint"
	ReasonNoContext     = "no-context"
	ReasonScopeBusy     = "scope-busy"
	ReasonNoDevice      = "no-device"
	ReasonCPUOnly       = "cpu-only"
)

// AdmissionPolicy judges whether a prediction justifies offloading to PIM.
// confidenceFloor is a per-call lower bound on the confidence threshold,
// raised by the recovery subsystem after a rollback in the scope.
//
// The live-checkpoint requirement is enforced by the engine after the policy
// admits, so no policy can bypass it.
type AdmissionPolicy interface {
	Admit(ec ExecutionContext, pred predict.Result, confidenceFloor float64) (admitted bool, reason string)
}

// Thresholds is a confidence/gain pair for the trust-and-gain test.
type Thresholds struct {
	Confidence float64
	Gain       float64
}

// TrustGainAdmission admits an offload only if confidence >= Confidence and
// predicted gain > Gain. Both comparisons are exact: a confidence equal to the
// threshold is admitted, a gain equal to the threshold is not.
type TrustGainAdmission struct {
	defaults  Thresholds
	overrides map[int64]Thresholds
}

// NewTrustGainAdmission creates the policy with global thresholds and
// optional per-scope overrides.
func NewTrustGainAdmission(defaults Thresholds, overrides map[int64]Thresholds) *TrustGainAdmission {
	o := make(map[int64]Thresholds, len(overrides))
	for k, v := range overrides {
		o[k] = v
	}
	return &TrustGainAdmission{defaults: defaults, overrides: o}
}

// ThresholdsFor returns the thresholds that apply to scope.
func (p *TrustGainAdmission) ThresholdsFor(scope int64) Thresholds {
	if t, ok := p.overrides[scope]; ok {
		return t
	}
	return p.defaults
}

// Admit implements AdmissionPolicy.
func (p *TrustGainAdmission) Admit(ec ExecutionContext, pred predict.Result, confidenceFloor float64) (bool, string) {
	t := p.ThresholdsFor(ec.ScopeID)
	minConfidence := math.Max(t.Confidence, confidenceFloor)
	if !(pred.Confidence >= minConfidence) {
		return false, ReasonLowConfidence
	}
	if !(pred.PredictedGain > t.Gain) {
		return false, ReasonLowGain
	}
	return true, ReasonAdmitted
}

// CPUOnly never offloads. Useful as a baseline.
type CPUOnly struct{}

func (c *CPUOnly) Admit(_ ExecutionContext, _ predict.Result, _ float64) (bool, string) {
	return false, ReasonCPUOnly
}

// validAdmissionPolicies is the set of recognized admission policy names.
var validAdmissionPolicies = map[string]bool{"": true, "trust-gain": true, "cpu-only": true}

// IsValidAdmissionPolicy returns true if name is a recognized admission policy.
func IsValidAdmissionPolicy(name string) bool { return validAdmissionPolicies[name] }

// NewAdmissionPolicy creates an admission policy by name.
// An empty string defaults to trust-gain.
// Panics on unrecognized names.
func NewAdmissionPolicy(name string, defaults Thresholds, overrides map[int64]Thresholds) AdmissionPolicy {
	if !IsValidAdmissionPolicy(name) {
		panic(fmt.Sprintf("unknown admission policy %q", name))
	}
	switch name {
	case "", "trust-gain":
		return NewTrustGainAdmission(defaults, overrides)
	case "cpu-only":
		return &CPUOnly{}
	default:
		panic(fmt.Sprintf("unhandled admission policy %q", name))
	}
}
