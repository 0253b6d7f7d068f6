package olp

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/olp-runtime/olp/olp/predict"
	"github.com/olp-runtime/olp/olp/trace"
)

// DispatchOutcome describes how one Execute call was routed and how it ended.
type DispatchOutcome struct {
	DispatchID string
	Location   Location
	Result     any
	Succeeded  bool
	Reason     string // admission reason, see Reason* constants
	Prediction predict.Result
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Contexts              int
	Executions            int64
	PIMSelections         int64
	CPUSelections         int64
	TaskFailures          int64
	CheckpointsRegistered uint64
	Rollbacks             int64
	ProtocolViolations    int64
	InFlight              []int64
	StartedAt             time.Time
}

// PIMPercentage returns the share of executions routed to PIM, in percent.
func (s Stats) PIMPercentage() float64 {
	if s.Executions == 0 {
		return 0
	}
	return float64(s.PIMSelections) / float64(s.Executions) * 100
}

func (s Stats) String() string {
	return fmt.Sprintf("executions=%d pim=%d (%.1f%%) cpu=%d failures=%d rollbacks=%d violations=%d checkpoints=%d contexts=%d",
		s.Executions, s.PIMSelections, s.PIMPercentage(), s.CPUSelections, s.TaskFailures,
		s.Rollbacks, s.ProtocolViolations, s.CheckpointsRegistered, s.Contexts)
}

// Engine decides, per call, whether a task runs on CPU or PIM, and owns the
// recovery path that undoes a PIM dispatch when the device interrupts it.
//
// Thread-safety: all methods are safe for concurrent use. Independent scopes
// proceed in parallel; within a scope at most one PIM dispatch is in flight.
type Engine struct {
	cfg         Config
	windows     *trace.WindowStore
	model       *predict.Adapter
	admission   AdmissionPolicy
	checkpoints *CheckpointStore
	recovery    *Recovery
	device      Device
	contexts    *contextRegistry
	log         *trace.DecisionLog
	startedAt   time.Time

	executions    atomic.Int64
	pimSelections atomic.Int64
	cpuSelections atomic.Int64
	taskFailures  atomic.Int64
}

// NewEngine creates an engine from cfg. A nil device disables offloading;
// a nil model selects the scorer named in cfg.Scorer.
func NewEngine(cfg Config, device Device, model predict.Model) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		model = predict.NewModel(cfg.Scorer)
	}
	adapter := predict.NewAdapter(model)
	if device == nil {
		logrus.Warnf("[engine] no PIM device attached; every task runs on CPU")
	}
	e := &Engine{
		cfg:         cfg,
		windows:     trace.NewWindowStore(cfg.Trace.WindowCapacity),
		model:       adapter,
		admission:   NewAdmissionPolicy(cfg.Admission.Policy, cfg.Thresholds(), cfg.ScopeOverrides()),
		checkpoints: NewCheckpointStore(),
		recovery:    NewRecovery(device, adapter, cfg.RecoveryConfig()),
		device:      device,
		contexts:    newContextRegistry(),
		log:         trace.NewDecisionLog(cfg.TraceConfig()),
		startedAt:   time.Now(),
	}
	t := cfg.Thresholds()
	logrus.Infof("[engine] admission=%q confidence>=%.4f gain>%.4f scorer=%q window=%d",
		cfg.Admission.Policy, t.Confidence, t.Gain, cfg.Scorer.Name, e.windows.Capacity())
	return e, nil
}

// SetContext registers the execution context for scope. Registering the same
// pair twice is a no-op; rebinding a scope to another function fails.
func (e *Engine) SetContext(functionName string, scopeID int64) (ExecutionContext, error) {
	ec, err := e.contexts.bind(ExecutionContext{FunctionName: functionName, ScopeID: scopeID})
	if err != nil {
		return ec, err
	}
	logrus.Debugf("[engine] context %s registered", ec)
	return ec, nil
}

// RecordAccess appends one memory reference to the scope's trace window.
func (e *Engine) RecordAccess(scopeID int64, address uint64, kind trace.AccessKind) error {
	return e.windows.Record(scopeID, address, kind)
}

// RegisterCheckpoint makes ref the live checkpoint. Dispatches already in
// flight keep the checkpoint they were admitted with.
func (e *Engine) RegisterCheckpoint(ref uint64) Checkpoint {
	return e.RegisterNamedCheckpoint(ref, "")
}

// RegisterNamedCheckpoint is RegisterCheckpoint with a diagnostic label.
func (e *Engine) RegisterNamedCheckpoint(ref uint64, name string) Checkpoint {
	cp := e.checkpoints.RegisterNamed(ref, name)
	recordCheckpoint(context.Background())
	logrus.Debugf("[engine] checkpoint #%d registered at %#x %s", cp.Seq, ref, name)
	return cp
}

// HandleCriticalInterrupt delivers a device interrupt to the recovery
// subsystem. It returns ErrProtocolViolation when no matching dispatch is in
// flight, in which case nothing else happens.
func (e *Engine) HandleCriticalInterrupt(ev InterruptEvent) error {
	return e.recovery.HandleInterrupt(context.Background(), ev)
}

// Execute runs task with data, on PIM if the scope's access history predicts
// a trustworthy gain and a checkpoint is available, otherwise on CPU.
//
// Errors: a task failure is returned as *TaskError. An interrupted PIM
// dispatch is returned as *RecoveryError once state has been restored; it
// wraps ErrCriticalMispredict or ErrHardwareFault.
func (e *Engine) Execute(ctx context.Context, ec ExecutionContext, task TaskFunc, data any) (DispatchOutcome, error) {
	if task == nil {
		return DispatchOutcome{}, errors.New("olp: nil task")
	}
	e.executions.Add(1)
	id := uuid.NewString()

	if !e.contexts.known(ec) {
		logrus.Warnf("[engine] %s has no registered context; running on CPU", ec)
		return e.runCPU(ctx, ec, id, task, data, nil, predict.Result{}, ReasonNoContext)
	}

	window := e.windows.Window(ec.ScopeID)
	pred := e.model.Predict(window)
	floor := e.recovery.confidenceFloor(ec.ScopeID)

	admitted, reason := e.admission.Admit(ec, pred, floor)
	if admitted && e.device == nil {
		admitted, reason = false, ReasonNoDevice
	}
	var cp Checkpoint
	if admitted {
		var ok bool
		if cp, ok = e.checkpoints.Current(); !ok {
			admitted, reason = false, ReasonNoCheckpoint
		}
	}
	if !admitted {
		return e.runCPU(ctx, ec, id, task, data, window, pred, reason)
	}

	d, ok := e.recovery.arm(ec, id, cp, pred, window)
	if !ok {
		return e.runCPU(ctx, ec, id, task, data, window, pred, ReasonScopeBusy)
	}
	return e.runPIM(ctx, ec, d, task, data, window, pred)
}

func (e *Engine) runCPU(ctx context.Context, ec ExecutionContext, id string, task TaskFunc, data any,
	window []trace.Record, pred predict.Result, reason string) (DispatchOutcome, error) {
	e.cpuSelections.Add(1)
	recordDecision(ctx, LocationCPU, reason)
	logrus.Debugf("[engine] %s -> cpu (%s, confidence=%.5f gain=%.4f)", ec, reason, pred.Confidence, pred.PredictedGain)

	out := DispatchOutcome{DispatchID: id, Location: LocationCPU, Reason: reason, Prediction: pred}
	start := time.Now()
	result, err := task(ctx, data)
	elapsed := time.Since(start)
	rec := e.decisionRecord(ec, out, elapsed)

	if err != nil {
		e.taskFailures.Add(1)
		recordDispatch(ctx, LocationCPU, elapsed, "task_error")
		e.log.RecordDecision(rec)
		return out, &TaskError{Location: LocationCPU, DispatchID: id, Err: err}
	}

	out.Result = result
	out.Succeeded = true
	rec.Succeeded = true
	recordDispatch(ctx, LocationCPU, elapsed, "success")
	e.log.RecordDecision(rec)
	if reason != ReasonNoContext {
		e.observe(ec, result, window, pred)
	}
	return out, nil
}

// errWithdrawn reports a dispatch taken by an interrupt before it reached the device.
var errWithdrawn = errors.New("olp: dispatch withdrawn before it started")

type dispatchResult struct {
	value any
	err   error
}

func (e *Engine) runPIM(ctx context.Context, ec ExecutionContext, d *dispatch, task TaskFunc, data any,
	window []trace.Record, pred predict.Result) (DispatchOutcome, error) {
	e.pimSelections.Add(1)
	recordDecision(ctx, LocationPIM, ReasonAdmitted)
	recordActive(ctx, 1)
	defer recordActive(ctx, -1)
	logrus.Debugf("[engine] %s -> pim (dispatch %s, confidence=%.5f gain=%.4f, checkpoint %#x)",
		ec, d.id, pred.Confidence, pred.PredictedGain, d.checkpoint.RecoveryReference)

	out := DispatchOutcome{DispatchID: d.id, Location: LocationPIM, Reason: ReasonAdmitted, Prediction: pred}
	req := DispatchRequest{ID: d.id, Context: ec, Task: task, Data: data, Checkpoint: d.checkpoint}
	start := time.Now()

	// The dispatch is only stopped through Halt, never by the caller's ctx,
	// so a cancelled caller cannot leave a half-applied PIM effect behind.
	done := make(chan dispatchResult, 1)
	go func() {
		if !e.recovery.live(d) {
			done <- dispatchResult{err: errWithdrawn}
			return
		}
		v, err := e.device.Dispatch(context.WithoutCancel(ctx), req)
		done <- dispatchResult{value: v, err: err}
	}()

	var res dispatchResult
	select {
	case res = <-done:
	case err := <-d.terminal:
		return e.recovered(ctx, ec, out, start, err)
	}

	if res.err != nil {
		if !e.recovery.fail(ctx, d, res.err) {
			return e.recovered(ctx, ec, out, start, <-d.terminal)
		}
		elapsed := time.Since(start)
		e.taskFailures.Add(1)
		recordDispatch(ctx, LocationPIM, elapsed, "rolled_back")
		rec := e.decisionRecord(ec, out, elapsed)
		rec.RolledBack = true
		rec.CheckpointRef = d.checkpoint.RecoveryReference
		e.log.RecordDecision(rec)
		return out, &TaskError{Location: LocationPIM, DispatchID: d.id, RolledBack: true, Err: res.err}
	}

	if !e.recovery.complete(d) {
		return e.recovered(ctx, ec, out, start, <-d.terminal)
	}

	elapsed := time.Since(start)
	out.Result = res.value
	out.Succeeded = true
	rec := e.decisionRecord(ec, out, elapsed)
	recordDispatch(ctx, LocationPIM, elapsed, "success")
	e.log.RecordDecision(rec)
	e.observe(ec, res.value, window, pred)
	return out, nil
}

// recovered finishes an Execute whose dispatch was taken by an interrupt.
// The rollback is complete by the time err arrives.
func (e *Engine) recovered(ctx context.Context, ec ExecutionContext, out DispatchOutcome, start time.Time, err error) (DispatchOutcome, error) {
	elapsed := time.Since(start)
	recordDispatch(ctx, LocationPIM, elapsed, "rolled_back")
	rec := e.decisionRecord(ec, out, elapsed)
	rec.RolledBack = true
	var recErr *RecoveryError
	if errors.As(err, &recErr) {
		rec.CheckpointRef = recErr.Checkpoint.RecoveryReference
	}
	e.log.RecordDecision(rec)
	return out, err
}

// observe feeds a successful run back into the trace and the model.
func (e *Engine) observe(ec ExecutionContext, result any, window []trace.Record, pred predict.Result) {
	if r, ok := result.(AccessReporter); ok {
		if err := e.windows.RecordAll(ec.ScopeID, r.Accesses()); err != nil {
			logrus.Warnf("[engine] dropping accesses reported by %s: %v", ec, err)
		}
	}
	e.model.Feedback(predict.Feedback{
		ScopeID:       ec.ScopeID,
		FunctionName:  ec.FunctionName,
		PredictedGain: pred.PredictedGain,
		Outcome:       predict.OutcomeSuccess,
		Window:        window,
	})
}

func (e *Engine) decisionRecord(ec ExecutionContext, out DispatchOutcome, elapsed time.Duration) trace.DecisionRecord {
	return trace.DecisionRecord{
		DispatchID:    out.DispatchID,
		ScopeID:       ec.ScopeID,
		FunctionName:  ec.FunctionName,
		Location:      string(out.Location),
		Reason:        out.Reason,
		Confidence:    out.Prediction.Confidence,
		PredictedGain: out.Prediction.PredictedGain,
		Succeeded:     out.Succeeded,
		DurationNs:    elapsed.Nanoseconds(),
	}
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Contexts:              e.contexts.size(),
		Executions:            e.executions.Load(),
		PIMSelections:         e.pimSelections.Load(),
		CPUSelections:         e.cpuSelections.Load(),
		TaskFailures:          e.taskFailures.Load(),
		CheckpointsRegistered: e.checkpoints.Registered(),
		Rollbacks:             e.recovery.Rollbacks(),
		ProtocolViolations:    e.recovery.Violations(),
		InFlight:              e.recovery.InFlight(),
		StartedAt:             e.startedAt,
	}
}

// Windows returns the per-scope access trace.
func (e *Engine) Windows() *trace.WindowStore { return e.windows }

// Checkpoints returns the checkpoint store.
func (e *Engine) Checkpoints() *CheckpointStore { return e.checkpoints }

// DecisionLog returns the decision log.
func (e *Engine) DecisionLog() *trace.DecisionLog { return e.log }

// Recovery returns the recovery subsystem.
func (e *Engine) Recovery() *Recovery { return e.recovery }

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }
