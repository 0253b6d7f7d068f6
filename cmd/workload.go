package cmd

import (
	"context"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/olp-runtime/olp/olp/trace"
)

// maxReportedAccesses bounds how many references one job reports to the tracer.
const maxReportedAccesses = 32

// accessPattern is how a scope's jobs walk memory.
type accessPattern string

const (
	patternStreaming accessPattern = "streaming" // row-major sweep, predictable stride
	patternGather    accessPattern = "gather"    // scattered reads, unpredictable
)

// matmulJob is the input of one matrix-multiply task.
type matmulJob struct {
	a, b     *mat.Dense
	accesses []trace.Access
}

// SizeBytes implements hal.Payload.
func (j *matmulJob) SizeBytes() int {
	ar, ac := j.a.Dims()
	br, bc := j.b.Dims()
	return 8 * (ar*ac + br*bc)
}

// matmulResult is the output of one matrix-multiply task.
type matmulResult struct {
	c        *mat.Dense
	accesses []trace.Access
}

// SizeBytes implements hal.Payload.
func (r *matmulResult) SizeBytes() int {
	rows, cols := r.c.Dims()
	return 8 * rows * cols
}

// Accesses implements olp.AccessReporter.
func (r *matmulResult) Accesses() []trace.Access { return r.accesses }

// newMatmulJob builds an n×n job for a scope. The access list is generated
// here, on the worker goroutine, so the task body itself stays deterministic.
func newMatmulJob(rng *rand.Rand, n int, base uint64, pattern accessPattern) *matmulJob {
	a := mat.NewDense(n, n, nil)
	b := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, rng.Float64())
			b.Set(i, j, rng.Float64())
		}
	}

	count := n * n
	if count > maxReportedAccesses {
		count = maxReportedAccesses
	}
	accesses := make([]trace.Access, count)
	for i := range accesses {
		addr := base + uint64(i)*8
		if pattern == patternGather {
			addr = base + uint64(rng.Intn(1<<20))*8
		}
		accesses[i] = trace.Access{Address: addr, Kind: trace.AccessWrite}
	}
	return &matmulJob{a: a, b: b, accesses: accesses}
}

// multiply is the task body: C = A·B.
func multiply(ctx context.Context, data any) (any, error) {
	job, ok := data.(*matmulJob)
	if !ok {
		return nil, fmt.Errorf("multiply: unexpected input %T", data)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var c mat.Dense
	c.Mul(job.a, job.b)
	return &matmulResult{c: &c, accesses: job.accesses}, nil
}

// patternFor assigns every gatherEvery-th scope the gather pattern.
func patternFor(scope int64, gatherEvery int) accessPattern {
	if gatherEvery > 0 && (scope+1)%int64(gatherEvery) == 0 {
		return patternGather
	}
	return patternStreaming
}
