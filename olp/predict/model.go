// Package predict scores trace windows into offload predictions.
//
// A Model maps a window of memory accesses to a confidence that offloading is
// the right call and a predicted relative gain. Models are swapped by name
// (NewModel) without touching the decision engine. The Adapter wraps any
// Model to give it the engine-facing contract: no errors, scores sanitized,
// and feedback serialized against concurrent predictions.
package predict

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/olp-runtime/olp/olp/trace"
)

// Result is a single prediction. Confidence estimates P(prediction correct)
// and lies in [0,1]; PredictedGain > 0 favors PIM, <= 0 favors CPU.
type Result struct {
	Confidence    float64
	PredictedGain float64
}

// Outcome is the observed result of a dispatch, used as a training signal.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeFailure {
		return "failure"
	}
	return "success"
}

// Feedback reports what happened after a prediction was acted on.
// Window is the trace window the prediction was computed from.
type Feedback struct {
	ScopeID       int64
	FunctionName  string
	PredictedGain float64
	Outcome       Outcome
	Window        []trace.Record
}

// Model is a scoring strategy. Predict must not mutate state; all learning
// happens in Feedback. Implementations are not required to be goroutine-safe
// on their own: the Adapter provides the locking.
type Model interface {
	Predict(window []trace.Record) Result
	Feedback(fb Feedback)
}

// Adapter wraps a Model for use by the decision engine.
//
// Thread-safety: Predict takes a read lock and Feedback a write lock, so
// concurrent predictions never observe a half-applied update.
type Adapter struct {
	mu    sync.RWMutex
	model Model
}

// NewAdapter wraps model. Panics if model is nil.
func NewAdapter(model Model) *Adapter {
	if model == nil {
		panic("predict.NewAdapter: model must not be nil")
	}
	return &Adapter{model: model}
}

// Predict scores window. An empty window, or a model output that is NaN or
// infinite, yields the zero Result, which never admits an offload.
func (a *Adapter) Predict(window []trace.Record) Result {
	if len(window) == 0 {
		return Result{}
	}
	a.mu.RLock()
	r := a.model.Predict(window)
	a.mu.RUnlock()
	return sanitize(r)
}

// Feedback forwards fb to the model inside a single critical section.
func (a *Adapter) Feedback(fb Feedback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model.Feedback(fb)
}

// Model returns the wrapped model.
func (a *Adapter) Model() Model { return a.model }

func sanitize(r Result) Result {
	if math.IsNaN(r.Confidence) || math.IsInf(r.Confidence, 0) ||
		math.IsNaN(r.PredictedGain) || math.IsInf(r.PredictedGain, 0) {
		return Result{}
	}
	r.Confidence = math.Max(0, math.Min(1, r.Confidence))
	return r
}

// ScorerConfig selects and parameterizes a Model.
// Zero-valued numeric fields select the scorer's defaults.
type ScorerConfig struct {
	Name string `yaml:"name"` // "fixed", "rule-based" (default), "learned"

	// fixed
	FixedConfidence float64 `yaml:"fixed_confidence"`
	FixedGain       float64 `yaml:"fixed_gain"`

	// rule-based
	MinHistory     int     `yaml:"min_history"`
	FailurePenalty float64 `yaml:"failure_penalty"`

	// learned
	LearningRate float64 `yaml:"learning_rate"`
	BaseGain     float64 `yaml:"base_gain"`
}

// validModelNames maps scorer names to validity. Unexported to prevent mutation.
var validModelNames = map[string]bool{
	"":           true,
	"fixed":      true,
	"rule-based": true,
	"learned":    true,
}

// IsValidModel returns true if name is a recognized scorer.
func IsValidModel(name string) bool { return validModelNames[name] }

// ValidModelNames returns sorted non-empty scorer names.
func ValidModelNames() []string {
	names := make([]string, 0, len(validModelNames))
	for name := range validModelNames {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// NewModel creates a scorer by name. An empty name defaults to rule-based.
// Panics on unrecognized names; callers validate first.
func NewModel(cfg ScorerConfig) Model {
	if !IsValidModel(cfg.Name) {
		panic(fmt.Sprintf("unknown scorer %q; valid scorers: %v", cfg.Name, ValidModelNames()))
	}
	switch cfg.Name {
	case "fixed":
		return NewFixedScorer(Result{Confidence: cfg.FixedConfidence, PredictedGain: cfg.FixedGain})
	case "", "rule-based":
		return NewRuleBasedScorer(cfg.MinHistory, cfg.FailurePenalty)
	case "learned":
		return NewLearnedScorer(cfg.LearningRate, cfg.BaseGain)
	default:
		panic(fmt.Sprintf("unhandled scorer %q", cfg.Name))
	}
}
