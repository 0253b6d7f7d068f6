// Package hal provides a simulated PIM device for the olp engine.
//
// SimDevice implements olp.Device. It runs tasks on goroutines, keeps DMA-style
// transfer counters and a bounded hardware event log, and raises interrupts
// through an InterruptSink: injected faults drawn from a seeded per-scope RNG,
// and hardware faults when a dispatch exceeds its timeout.
package hal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/olp-runtime/olp/olp"
)

// ErrHalted is returned by Dispatch when the dispatch was halted before it finished.
var ErrHalted = errors.New("dispatch halted")

// maxHaltedIDs bounds the halts remembered for dispatches not yet seen.
const maxHaltedIDs = 1024

// InterruptSink receives interrupts raised by the device. *olp.Engine implements it.
type InterruptSink interface {
	HandleCriticalInterrupt(ev olp.InterruptEvent) error
}

// Payload is implemented by task inputs and results that know their transfer size.
type Payload interface {
	SizeBytes() int
}

// Config parameterizes a SimDevice.
type Config struct {
	Seed              int64         `yaml:"seed"`
	MispredictRate    float64       `yaml:"mispredict_rate" validate:"gte=0,lte=1"`
	HardwareFaultRate float64       `yaml:"hardware_fault_rate" validate:"gte=0,lte=1"`
	Latency           time.Duration `yaml:"latency" validate:"gte=0"`
	Jitter            time.Duration `yaml:"jitter" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"` // 0 disables the watchdog
	EventLogSize      int           `yaml:"event_log_size" validate:"gte=0"`
}

var configValidate = validator.New()

// Validate checks rates and durations.
func (c Config) Validate() error {
	if math.IsNaN(c.MispredictRate) || math.IsNaN(c.HardwareFaultRate) {
		return fmt.Errorf("hal config: fault rates must not be NaN")
	}
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("hal config: %w", err)
	}
	if c.MispredictRate+c.HardwareFaultRate > 1 {
		return fmt.Errorf("hal config: mispredict_rate + hardware_fault_rate must be <= 1, got %f",
			c.MispredictRate+c.HardwareFaultRate)
	}
	return nil
}

// Stats are the device counters.
type Stats struct {
	Dispatches         int64
	Completed          int64
	TaskErrors         int64
	Halted             int64
	Restores           int64
	InterruptsRaised   int64
	InterruptsRejected int64
	BytesIn            int64
	BytesOut           int64
}

// SimDevice is a simulated PIM unit.
//
// Thread-safety: safe for concurrent use. The device lock is never held
// while calling the sink, since the sink calls back into Halt and Restore.
type SimDevice struct {
	cfg Config

	mu       sync.Mutex
	sink     InterruptSink
	rng      *PartitionedRNG
	inflight map[string]context.CancelFunc
	halted   map[string]struct{} // halted before dispatch; consumed by Dispatch
	haltedQ  []string            // insertion order of halted, for trimming
	state    uint64
	log      eventLog
	stats    Stats
}

// NewSimDevice creates a device. Call Attach before dispatching if faults are enabled.
func NewSimDevice(cfg Config) (*SimDevice, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	size := cfg.EventLogSize
	if size <= 0 {
		size = DefaultEventLogSize
	}
	return &SimDevice{
		cfg:      cfg,
		rng:      NewPartitionedRNG(cfg.Seed),
		inflight: make(map[string]context.CancelFunc),
		halted:   make(map[string]struct{}),
		log:      eventLog{max: size},
	}, nil
}

// Attach sets the interrupt sink.
func (d *SimDevice) Attach(sink InterruptSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

// drawFault decides whether the dispatch in scope faults. Caller holds d.mu.
func (d *SimDevice) drawFault(scope int64) (olp.InterruptReason, bool) {
	if d.cfg.MispredictRate == 0 && d.cfg.HardwareFaultRate == 0 {
		return "", false
	}
	u := d.rng.ForSubsystem(SubsystemScope(scope)).Float64()
	switch {
	case u < d.cfg.MispredictRate:
		return olp.ReasonCriticalMispredict, true
	case u < d.cfg.MispredictRate+d.cfg.HardwareFaultRate:
		return olp.ReasonHardwareFault, true
	default:
		return "", false
	}
}

// transferDelay returns the simulated transfer time. Caller holds d.mu.
func (d *SimDevice) transferDelay() time.Duration {
	delay := d.cfg.Latency
	if d.cfg.Jitter > 0 {
		delay += time.Duration(d.rng.ForSubsystem(SubsystemLatency).Int63n(int64(d.cfg.Jitter)))
	}
	return delay
}

func payloadSize(v any) int64 {
	if p, ok := v.(Payload); ok {
		return int64(p.SizeBytes())
	}
	return 0
}

type taskResult struct {
	value any
	err   error
}

// Dispatch implements olp.Device. It blocks until the task finishes or the
// dispatch is halted, in which case it returns ErrHalted. A dispatch halted
// before it arrives returns ErrHalted without running the task.
func (d *SimDevice) Dispatch(ctx context.Context, req olp.DispatchRequest) (any, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	scope := req.Context.ScopeID

	d.mu.Lock()
	if _, ok := d.halted[req.ID]; ok {
		delete(d.halted, req.ID)
		d.stats.Halted++
		d.log.append(EventHalt, req.ID, scope, "halted before dispatch")
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s before dispatch", ErrHalted, req.ID)
	}
	d.inflight[req.ID] = cancel
	d.stats.Dispatches++
	d.stats.BytesIn += payloadSize(req.Data)
	fault, faulted := d.drawFault(scope)
	delay := d.transferDelay()
	sink := d.sink
	d.log.append(EventDispatch, req.ID, scope, fmt.Sprintf("checkpoint %#x", req.Checkpoint.RecoveryReference))
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.inflight, req.ID)
		d.mu.Unlock()
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s during transfer", ErrHalted, req.ID)
		}
	}

	if faulted && d.raise(sink, req, fault, "injected") {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %s", ErrHalted, req.ID)
	}

	results := make(chan taskResult, 1)
	go func() {
		v, err := req.Task(ctx, req.Data)
		results <- taskResult{value: v, err: err}
	}()

	var watchdog <-chan time.Time
	if d.cfg.Timeout > 0 {
		t := time.NewTimer(d.cfg.Timeout)
		defer t.Stop()
		watchdog = t.C
	}

	var res taskResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrHalted, req.ID)
	case <-watchdog:
		if d.raise(sink, req, olp.ReasonHardwareFault, fmt.Sprintf("timeout after %s", d.cfg.Timeout)) {
			<-ctx.Done()
			return nil, fmt.Errorf("%w: %s", ErrHalted, req.ID)
		}
		res = <-results
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %s", ErrHalted, req.ID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if res.err != nil {
		d.stats.TaskErrors++
		d.log.append(EventTaskError, req.ID, scope, res.err.Error())
		return nil, res.err
	}
	d.stats.Completed++
	d.stats.BytesOut += payloadSize(res.value)
	d.log.append(EventComplete, req.ID, scope, "")
	return res.value, nil
}

// raise delivers an interrupt for req to sink. It reports whether the sink
// accepted it, in which case the dispatch has already been halted.
func (d *SimDevice) raise(sink InterruptSink, req olp.DispatchRequest, reason olp.InterruptReason, detail string) bool {
	scope := req.Context.ScopeID
	if sink == nil {
		logrus.Warnf("[hal] %s for dispatch %s dropped: no interrupt sink attached", reason, req.ID)
		return false
	}
	d.mu.Lock()
	d.stats.InterruptsRaised++
	d.log.append(EventInterrupt, req.ID, scope, fmt.Sprintf("%s (%s)", reason, detail))
	d.mu.Unlock()

	err := sink.HandleCriticalInterrupt(olp.InterruptEvent{Reason: reason, Context: req.Context, DispatchID: req.ID})
	if err != nil {
		d.mu.Lock()
		d.stats.InterruptsRejected++
		d.log.append(EventInterruptRejected, req.ID, scope, err.Error())
		d.mu.Unlock()
		logrus.Warnf("[hal] %s for dispatch %s rejected: %v", reason, req.ID, err)
		return false
	}
	return true
}

// Halt implements olp.Device. Halting a dispatch that is not in flight
// remembers the ID, so a Dispatch for it that arrives later never runs.
func (d *SimDevice) Halt(dispatchID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cancel, ok := d.inflight[dispatchID]; ok {
		cancel()
		delete(d.inflight, dispatchID)
		d.stats.Halted++
		d.log.append(EventHalt, dispatchID, -1, "")
		return
	}
	d.tombstone(dispatchID)
	d.log.append(EventHalt, dispatchID, -1, "not in flight")
}

// tombstone records a halt for a dispatch the device has not seen. Only the
// most recent maxHaltedIDs are kept, since a halt can also target a dispatch
// that already finished. Caller holds d.mu.
func (d *SimDevice) tombstone(id string) {
	if _, ok := d.halted[id]; ok {
		return
	}
	d.halted[id] = struct{}{}
	d.haltedQ = append(d.haltedQ, id)
	if len(d.haltedQ) > maxHaltedIDs {
		drop := d.haltedQ[:len(d.haltedQ)-maxHaltedIDs/2]
		for _, old := range drop {
			delete(d.halted, old)
		}
		d.haltedQ = append([]string(nil), d.haltedQ[len(drop):]...)
	}
}

// Restore implements olp.Device by rewinding the simulated application state.
func (d *SimDevice) Restore(ref uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = ref
	d.stats.Restores++
	d.log.append(EventRestore, "", -1, fmt.Sprintf("%#x", ref))
}

// State returns the current simulated application state reference.
func (d *SimDevice) State() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetState records application progress, as the application would before registering a new checkpoint.
func (d *SimDevice) SetState(ref uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = ref
}

// Stats returns a snapshot of the device counters.
func (d *SimDevice) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Events returns a copy of the event log, oldest first.
func (d *SimDevice) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.snapshot()
}

// InFlight returns the number of dispatches currently running on the device.
func (d *SimDevice) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}
