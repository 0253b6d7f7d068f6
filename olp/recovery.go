package olp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/olp-runtime/olp/olp/predict"
	"github.com/olp-runtime/olp/olp/trace"
)

// RecoveryState is the per-scope dispatch state.
type RecoveryState string

const (
	StateIdle       RecoveryState = "idle"
	StateDispatched RecoveryState = "dispatched"
	StateCompleted  RecoveryState = "completed"
	StateRecovering RecoveryState = "recovering"
)

// RecoveryConfig tunes post-rollback behavior.
type RecoveryConfig struct {
	// EscalatedConfidence is the confidence floor applied to a scope after a
	// rollback there. 0 disables escalation.
	EscalatedConfidence float64
	// EscalationWindow is how many subsequent executions in the scope keep
	// the escalated floor.
	EscalationWindow int
}

// dispatchSlot is the state machine of one scope. All fields are guarded by mu.
type dispatchSlot struct {
	mu             sync.Mutex
	state          RecoveryState
	id             string
	ec             ExecutionContext
	checkpoint     Checkpoint
	prediction     predict.Result
	window         []trace.Record
	terminal       chan error
	escalationLeft int
}

// dispatch is the handle Execute holds while a PIM dispatch is outstanding.
type dispatch struct {
	slot       *dispatchSlot
	id         string
	checkpoint Checkpoint
	// terminal receives the recovered error if an interrupt wins the race
	// against completion. Buffered so the recovering side never blocks.
	terminal <-chan error
}

// Recovery owns the per-scope Idle → Dispatched → (Completed | Recovering) → Idle
// state machine. Scopes recover independently; within a scope at most one
// dispatch is in flight, so at most one recovery runs at a time.
//
// Thread-safety: safe for concurrent use. Each scope's slot has its own lock;
// a rollback runs entirely under that lock, so a racing completion observes
// either Dispatched (and wins) or Idle after the rollback (and loses).
// Lock order is slot → model adapter; the engine never holds the adapter
// lock while entering a slot.
type Recovery struct {
	device Device
	model  *predict.Adapter
	cfg    RecoveryConfig

	mu    sync.Mutex
	slots map[int64]*dispatchSlot

	rollbacks  atomic.Int64
	violations atomic.Int64
}

// NewRecovery creates a Recovery bound to device and model.
func NewRecovery(device Device, model *predict.Adapter, cfg RecoveryConfig) *Recovery {
	return &Recovery{
		device: device,
		model:  model,
		cfg:    cfg,
		slots:  make(map[int64]*dispatchSlot),
	}
}

func (r *Recovery) lookup(scope int64) *dispatchSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[scope]
}

func (r *Recovery) slotFor(scope int64) *dispatchSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[scope]
	if !ok {
		s = &dispatchSlot{state: StateIdle}
		r.slots[scope] = s
	}
	return s
}

// State returns the scope's current state. Unseen scopes are Idle.
func (r *Recovery) State(scope int64) RecoveryState {
	s := r.lookup(scope)
	if s == nil {
		return StateIdle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InFlight returns the sorted scopes that currently have a PIM dispatch outstanding.
func (r *Recovery) InFlight() []int64 {
	r.mu.Lock()
	slots := make(map[int64]*dispatchSlot, len(r.slots))
	for k, v := range r.slots {
		slots[k] = v
	}
	r.mu.Unlock()

	var out []int64
	for scope, s := range slots {
		s.mu.Lock()
		if s.state == StateDispatched {
			out = append(out, scope)
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Rollbacks returns how many dispatches have been rolled back.
func (r *Recovery) Rollbacks() int64 { return r.rollbacks.Load() }

// Violations returns how many interrupts were rejected as protocol violations.
func (r *Recovery) Violations() int64 { return r.violations.Load() }

// confidenceFloor returns the escalated confidence floor for scope and
// consumes one execution from the escalation window.
func (r *Recovery) confidenceFloor(scope int64) float64 {
	if r.cfg.EscalatedConfidence <= 0 || r.cfg.EscalationWindow <= 0 {
		return 0
	}
	s := r.lookup(scope)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.escalationLeft <= 0 {
		return 0
	}
	s.escalationLeft--
	return r.cfg.EscalatedConfidence
}

// arm moves scope from Idle to Dispatched. It returns false if a dispatch is
// already in flight for the scope. cp is the checkpoint snapshotted at
// admission; a later registration does not change what this dispatch rolls back to.
func (r *Recovery) arm(ec ExecutionContext, id string, cp Checkpoint, pred predict.Result, window []trace.Record) (*dispatch, bool) {
	s := r.slotFor(ec.ScopeID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return nil, false
	}
	terminal := make(chan error, 1)
	s.state = StateDispatched
	s.id = id
	s.ec = ec
	s.checkpoint = cp
	s.prediction = pred
	s.window = window
	s.terminal = terminal
	return &dispatch{slot: s, id: id, checkpoint: cp, terminal: terminal}, true
}

// live reports whether d still owns its scope's slot.
func (r *Recovery) live(d *dispatch) bool {
	s := d.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateDispatched && s.id == d.id
}

// complete moves the dispatch from Dispatched through Completed to Idle.
// It returns false if an interrupt already took the dispatch; the caller
// must then wait on d.terminal.
func (r *Recovery) complete(d *dispatch) bool {
	s := d.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDispatched || s.id != d.id {
		return false
	}
	s.state = StateCompleted
	s.reset()
	return true
}

// fail rolls back a dispatch whose task body returned an error on PIM.
// It returns false if an interrupt already took the dispatch.
func (r *Recovery) fail(ctx context.Context, d *dispatch, cause error) bool {
	s := d.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDispatched || s.id != d.id {
		return false
	}
	logrus.Warnf("[recovery] task failed on PIM in %s (dispatch %s): %v", s.ec, s.id, cause)
	r.rollbackLocked(ctx, s, "task-error")
	return true
}

// HandleInterrupt consumes an interrupt raised by the device. The event must
// name the full execution context of the dispatch in flight, and its
// DispatchID when one is given. An interrupt that does not match is a
// protocol violation: it is
// logged, counted and otherwise ignored, and ErrProtocolViolation is returned
// to the interrupt source.
func (r *Recovery) HandleInterrupt(ctx context.Context, ev InterruptEvent) error {
	s := r.lookup(ev.Context.ScopeID)
	if s == nil {
		return r.violation(ctx, ev, StateIdle)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDispatched || ev.Context != s.ec || (ev.DispatchID != "" && ev.DispatchID != s.id) {
		return r.violation(ctx, ev, s.state)
	}

	reason := ev.Reason
	if reason != ReasonHardwareFault {
		reason = ReasonCriticalMispredict
	}
	logrus.Warnf("[recovery] %s in %s (dispatch %s): rolling back to checkpoint %#x",
		reason, s.ec, s.id, s.checkpoint.RecoveryReference)

	recErr := &RecoveryError{
		Reason:     reason,
		DispatchID: s.id,
		Context:    s.ec,
		Checkpoint: s.checkpoint,
	}
	terminal := s.terminal
	r.rollbackLocked(ctx, s, string(reason))
	terminal <- recErr
	return nil
}

func (r *Recovery) violation(ctx context.Context, ev InterruptEvent, state RecoveryState) error {
	r.violations.Add(1)
	recordViolation(ctx)
	logrus.Errorf("[recovery] protocol violation: %s interrupt for %s (dispatch %q) while %s; ignored",
		ev.Reason, ev.Context, ev.DispatchID, state)
	return fmt.Errorf("%w: %s interrupt for scope %d while %s", ErrProtocolViolation, ev.Reason, ev.Context.ScopeID, state)
}

// rollbackLocked performs, in order: halt the in-flight effect, restore the
// snapshotted checkpoint, report the failure to the model, return to Idle.
// Caller holds s.mu and has verified s.state == StateDispatched.
func (r *Recovery) rollbackLocked(ctx context.Context, s *dispatchSlot, cause string) {
	s.state = StateRecovering

	r.device.Halt(s.id)
	r.device.Restore(s.checkpoint.RecoveryReference)
	if r.model != nil {
		r.model.Feedback(predict.Feedback{
			ScopeID:       s.ec.ScopeID,
			FunctionName:  s.ec.FunctionName,
			PredictedGain: s.prediction.PredictedGain,
			Outcome:       predict.OutcomeFailure,
			Window:        s.window,
		})
	}

	if r.cfg.EscalatedConfidence > 0 && r.cfg.EscalationWindow > 0 {
		s.escalationLeft = r.cfg.EscalationWindow
		logrus.Infof("[recovery] confidence floor for scope %d raised to %.5f for %d executions",
			s.ec.ScopeID, r.cfg.EscalatedConfidence, r.cfg.EscalationWindow)
	}

	r.rollbacks.Add(1)
	recordRollback(ctx, cause)
	s.state = StateIdle
	s.reset()
}

// reset clears per-dispatch fields. The escalation counter survives.
func (s *dispatchSlot) reset() {
	if s.state == StateCompleted {
		s.state = StateIdle
	}
	s.id = ""
	s.window = nil
	s.terminal = nil
	s.prediction = predict.Result{}
	s.checkpoint = Checkpoint{}
}
