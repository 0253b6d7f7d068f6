// Package testutil provides shared test infrastructure for the olp packages.
// It builds synthetic access windows used across olp/, olp/predict and
// olp/hal test packages.
package testutil

import (
	"github.com/olp-runtime/olp/olp/trace"
)

// StridedWindow builds n records for scope starting at base with a fixed stride.
func StridedWindow(scope int64, n int, base, stride uint64) []trace.Record {
	w := make([]trace.Record, n)
	for i := range w {
		w[i] = trace.Record{ScopeID: scope, Address: base + uint64(i)*stride, Timestamp: int64(i + 1), Kind: trace.AccessRead}
	}
	return w
}

// IrregularWindow builds n records whose strides never repeat.
func IrregularWindow(scope int64, n int) []trace.Record {
	w := make([]trace.Record, n)
	addr := uint64(0x1000)
	for i := range w {
		addr += uint64(i*i*13 + 7)
		w[i] = trace.Record{ScopeID: scope, Address: addr, Timestamp: int64(i + 1)}
	}
	return w
}

// StridedAccesses is StridedWindow in the form a task reports it.
func StridedAccesses(n int, base, stride uint64) []trace.Access {
	a := make([]trace.Access, n)
	for i := range a {
		a[i] = trace.Access{Address: base + uint64(i)*stride, Kind: trace.AccessRead}
	}
	return a
}
