package predict

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/olp-runtime/olp/olp/trace"
)

// maxStrides bounds how many consecutive strides are inspected, newest last.
const maxStrides = 16

// strideFeatures summarizes the access pattern of a window.
type strideFeatures struct {
	n          int     // number of strides inspected
	dominant   float64 // most frequent stride
	regularity float64 // fraction of strides equal to dominant, in [0,1]
	stability  float64 // 1/(1+cv) of the stride distribution, in (0,1]
	fill       float64 // n / maxStrides, in [0,1]
}

// strides returns the signed address deltas between the newest
// maxStrides+1 records of window.
func strides(window []trace.Record) []float64 {
	if len(window) < 2 {
		return nil
	}
	start := 0
	if len(window) > maxStrides+1 {
		start = len(window) - maxStrides - 1
	}
	out := make([]float64, 0, len(window)-start-1)
	for i := start + 1; i < len(window); i++ {
		out = append(out, float64(int64(window[i].Address-window[i-1].Address)))
	}
	return out
}

func extractFeatures(window []trace.Record) strideFeatures {
	s := strides(window)
	if len(s) == 0 {
		return strideFeatures{}
	}

	counts := make(map[float64]int, len(s))
	best, bestCount := s[0], 0
	for _, v := range s {
		counts[v]++
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}

	mean, std := stat.MeanStdDev(s, nil)
	if len(s) == 1 {
		std = 0
	}
	cv := 0.0
	if mean != 0 {
		cv = math.Abs(std / mean)
	} else if std != 0 {
		cv = math.Inf(1)
	}
	stability := 0.0
	if !math.IsInf(cv, 1) {
		stability = 1 / (1 + cv)
	}

	return strideFeatures{
		n:          len(s),
		dominant:   best,
		regularity: float64(bestCount) / float64(len(s)),
		stability:  stability,
		fill:       float64(len(s)) / maxStrides,
	}
}
