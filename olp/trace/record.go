// Package trace provides memory-access windows and decision-trace recording for
// offload analysis. This package has no dependencies on olp/ or olp/predict/;
// it stores pure data types plus the bounded per-scope access windows.
package trace

import "fmt"

// AccessKind classifies an observed memory reference.
type AccessKind string

const (
	AccessRead  AccessKind = "read"
	AccessWrite AccessKind = "write"
)

// validAccessKinds maps accepted access kind strings.
var validAccessKinds = map[AccessKind]bool{
	AccessRead:  true,
	AccessWrite: true,
	"":          true, // empty defaults to read
}

// IsValidAccessKind returns true if the given kind string is a recognized access kind.
func IsValidAccessKind(kind string) bool {
	return validAccessKinds[AccessKind(kind)]
}

// Record captures one observed memory reference. Records are never mutated
// after they are appended to a window.
type Record struct {
	ScopeID   int64
	Address   uint64
	Timestamp int64 // monotonic nanoseconds since the owning store was created
	Kind      AccessKind
}

func (r Record) String() string {
	return fmt.Sprintf("Record: (Scope: %d, Addr: %#x, Kind: %s, T: %d)", r.ScopeID, r.Address, r.Kind, r.Timestamp)
}

// Access is a memory reference reported by a task body, before it is
// timestamped and attached to a scope.
type Access struct {
	Address uint64
	Kind    AccessKind
}

// DecisionRecord captures a single offload decision and its terminal outcome.
type DecisionRecord struct {
	DispatchID    string
	ScopeID       int64
	FunctionName  string
	Location      string // "cpu" or "pim"
	Reason        string
	Confidence    float64
	PredictedGain float64
	Succeeded     bool
	RolledBack    bool
	CheckpointRef uint64 // reference used for rollback; 0 when no rollback happened
	DurationNs    int64
}
