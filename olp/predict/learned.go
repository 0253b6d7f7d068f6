package predict

import (
	"math"

	"github.com/olp-runtime/olp/olp/trace"
)

const (
	DefaultLearningRate = 0.1
	DefaultBaseGain     = 0.4
)

// initialWeights are the logistic coefficients for
// [bias, regularity, stability, fill] before any feedback.
var initialWeights = [4]float64{-2, 3, 2, 1}

// LearnedScorer is an online logistic model over stride features. The shared
// weights are trained by every feedback; each scope also has its own bias and
// gain scale so repeated mispredictions in one scope penalize only that scope.
type LearnedScorer struct {
	lr        float64
	baseGain  float64
	weights   [4]float64
	scopeBias map[int64]float64
	gainScale map[int64]float64
	updates   int
}

// NewLearnedScorer creates a LearnedScorer. Non-positive arguments select
// DefaultLearningRate and DefaultBaseGain.
func NewLearnedScorer(learningRate, baseGain float64) *LearnedScorer {
	if learningRate <= 0 {
		learningRate = DefaultLearningRate
	}
	if baseGain <= 0 {
		baseGain = DefaultBaseGain
	}
	return &LearnedScorer{
		lr:        learningRate,
		baseGain:  baseGain,
		weights:   initialWeights,
		scopeBias: make(map[int64]float64),
		gainScale: make(map[int64]float64),
	}
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func (l *LearnedScorer) inputs(f strideFeatures) [4]float64 {
	return [4]float64{1, f.regularity, f.stability, f.fill}
}

func (l *LearnedScorer) probability(x [4]float64, scope int64) float64 {
	z := l.scopeBias[scope]
	for i := range x {
		z += l.weights[i] * x[i]
	}
	return sigmoid(z)
}

func (l *LearnedScorer) scale(scope int64) float64 {
	if s, ok := l.gainScale[scope]; ok {
		return s
	}
	return 1
}

// Predict implements Model.
func (l *LearnedScorer) Predict(window []trace.Record) Result {
	f := extractFeatures(window)
	if f.n == 0 {
		return Result{}
	}
	scope := window[0].ScopeID
	return Result{
		Confidence:    l.probability(l.inputs(f), scope),
		PredictedGain: l.baseGain * f.stability * l.scale(scope),
	}
}

// Feedback implements Model. One SGD step on the log-loss with target 1 for
// success and 0 for failure.
func (l *LearnedScorer) Feedback(fb Feedback) {
	f := extractFeatures(fb.Window)
	y := 1.0
	if fb.Outcome == OutcomeFailure {
		y = 0
	}

	if f.n > 0 {
		x := l.inputs(f)
		p := l.probability(x, fb.ScopeID)
		grad := y - p
		for i := range x {
			l.weights[i] += l.lr * grad * x[i]
		}
		l.scopeBias[fb.ScopeID] += l.lr * grad
	} else if fb.Outcome == OutcomeFailure {
		l.scopeBias[fb.ScopeID] -= l.lr
	}

	s := l.scale(fb.ScopeID)
	if fb.Outcome == OutcomeFailure {
		s *= 0.5
	} else {
		s = min(1, s*1.1)
	}
	l.gainScale[fb.ScopeID] = s
	l.updates++
}

// Updates returns how many feedback calls trained the model.
func (l *LearnedScorer) Updates() int { return l.updates }
