package trace

// TraceSummary aggregates statistics from a DecisionLog.
type TraceSummary struct {
	TotalDecisions     int
	PIMCount           int
	CPUCount           int
	FailedCount        int
	RollbackCount      int
	PIMPercentage      float64
	MeanConfidence     float64
	ReasonDistribution map[string]int // reason → count of decisions
	ScopeDistribution  map[int64]int  // scope ID → count of decisions
}

// Summarize computes aggregate statistics from a DecisionLog.
// Safe for nil or empty logs (returns zero-value fields).
func Summarize(dl *DecisionLog) *TraceSummary {
	summary := &TraceSummary{
		ReasonDistribution: make(map[string]int),
		ScopeDistribution:  make(map[int64]int),
	}
	if dl == nil {
		return summary
	}

	decisions := dl.Decisions()
	summary.TotalDecisions = len(decisions)
	if len(decisions) == 0 {
		return summary
	}

	totalConfidence := 0.0
	for _, d := range decisions {
		if d.Location == "pim" {
			summary.PIMCount++
		} else {
			summary.CPUCount++
		}
		if !d.Succeeded {
			summary.FailedCount++
		}
		if d.RolledBack {
			summary.RollbackCount++
		}
		totalConfidence += d.Confidence
		summary.ReasonDistribution[d.Reason]++
		summary.ScopeDistribution[d.ScopeID]++
	}
	summary.PIMPercentage = 100 * float64(summary.PIMCount) / float64(len(decisions))
	summary.MeanConfidence = totalConfidence / float64(len(decisions))

	return summary
}
