package predict

import "github.com/olp-runtime/olp/olp/trace"

// maxFixedFeedback bounds the feedback a FixedScorer retains.
const maxFixedFeedback = 1000

// FixedScorer returns the same Result for every non-empty window and keeps
// the most recent feedback it receives. Intended for tests and dry runs.
type FixedScorer struct {
	result   Result
	feedback []Feedback
	total    int
}

// NewFixedScorer creates a FixedScorer returning r.
func NewFixedScorer(r Result) *FixedScorer {
	return &FixedScorer{result: r}
}

// Predict implements Model.
func (f *FixedScorer) Predict(_ []trace.Record) Result { return f.result }

// Feedback implements Model.
func (f *FixedScorer) Feedback(fb Feedback) {
	f.total++
	if len(f.feedback) >= maxFixedFeedback {
		// trim to half, oldest first
		f.feedback = append(f.feedback[:0], f.feedback[len(f.feedback)-maxFixedFeedback/2:]...)
	}
	f.feedback = append(f.feedback, fb)
}

// Set changes the result returned by later predictions. Not goroutine-safe;
// call between executions.
func (f *FixedScorer) Set(r Result) { f.result = r }

// Total returns the number of feedbacks received, including those no longer retained.
func (f *FixedScorer) Total() int { return f.total }

// Received returns a copy of the retained feedback, oldest first.
func (f *FixedScorer) Received() []Feedback {
	out := make([]Feedback, len(f.feedback))
	copy(out, f.feedback)
	return out
}
