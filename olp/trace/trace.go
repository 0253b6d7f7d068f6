package trace

import "sync"

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables decision logging (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures every offload decision and its outcome.
	TraceLevelDecisions TraceLevel = "decisions"
)

// DefaultLogSize is the number of decision records kept before trimming.
const DefaultLogSize = 1000

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to decisions
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls decision log behavior.
type TraceConfig struct {
	Level   TraceLevel
	MaxSize int // records kept before the older half is dropped; <=0 selects DefaultLogSize
}

// DecisionLog collects decision records from the engine.
// When the log exceeds MaxSize, the oldest half is dropped.
type DecisionLog struct {
	Config TraceConfig

	mu        sync.Mutex
	decisions []DecisionRecord
	dropped   int
}

// NewDecisionLog creates a DecisionLog ready for recording.
func NewDecisionLog(config TraceConfig) *DecisionLog {
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultLogSize
	}
	if config.Level == "" {
		config.Level = TraceLevelDecisions
	}
	return &DecisionLog{
		Config:    config,
		decisions: make([]DecisionRecord, 0),
	}
}

// RecordDecision appends a decision record. A nil log or TraceLevelNone is a no-op.
func (dl *DecisionLog) RecordDecision(record DecisionRecord) {
	if dl == nil || dl.Config.Level == TraceLevelNone {
		return
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.decisions = append(dl.decisions, record)
	if len(dl.decisions) > dl.Config.MaxSize {
		keep := dl.Config.MaxSize / 2
		drop := len(dl.decisions) - keep
		dl.dropped += drop
		dl.decisions = append(make([]DecisionRecord, 0, keep), dl.decisions[drop:]...)
	}
}

// Decisions returns a copy of the retained records, oldest first.
func (dl *DecisionLog) Decisions() []DecisionRecord {
	if dl == nil {
		return nil
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	out := make([]DecisionRecord, len(dl.decisions))
	copy(out, dl.decisions)
	return out
}

// Recent returns up to limit of the newest records. limit <= 0 returns all.
func (dl *DecisionLog) Recent(limit int) []DecisionRecord {
	all := dl.Decisions()
	if limit <= 0 || limit >= len(all) {
		return all
	}
	return all[len(all)-limit:]
}

// Dropped returns how many records were trimmed from the log.
func (dl *DecisionLog) Dropped() int {
	if dl == nil {
		return 0
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.dropped
}

// Clear removes all retained records.
func (dl *DecisionLog) Clear() {
	if dl == nil {
		return
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.decisions = dl.decisions[:0]
}
