package olp

import (
	"context"

	"github.com/olp-runtime/olp/olp/trace"
)

// Location is where a task ran.
type Location string

const (
	LocationCPU Location = "cpu"
	LocationPIM Location = "pim"
)

// TaskFunc is a task body. Its memory effects are opaque to the engine.
type TaskFunc func(ctx context.Context, data any) (any, error)

// AccessReporter is implemented by task results that expose the memory
// references the task made. Reported accesses are appended to the scope's
// trace window after a successful run.
type AccessReporter interface {
	Accesses() []trace.Access
}

// DispatchRequest is a task handed to the PIM device.
type DispatchRequest struct {
	ID         string
	Context    ExecutionContext
	Task       TaskFunc
	Data       any
	Checkpoint Checkpoint
}

// Device is the PIM execution collaborator.
//
// Dispatch runs the task and blocks until it finishes or ctx is cancelled by
// Halt. Halt stops and invalidates the in-flight effect of a dispatch. Halt
// may arrive before Dispatch for the same ID; the later Dispatch must then
// return an error without running the task.
// Restore rewinds caller-visible state to a checkpoint reference and must not
// return until that is done; a device that cannot restore must abort the
// process itself, since the engine cannot reason about hardware state.
type Device interface {
	Dispatch(ctx context.Context, req DispatchRequest) (any, error)
	Halt(dispatchID string)
	Restore(ref uint64)
}

// InterruptReason classifies an interrupt raised by the device.
type InterruptReason string

const (
	ReasonCriticalMispredict InterruptReason = "critical-mispredict"
	ReasonHardwareFault      InterruptReason = "hardware-fault"
)

// InterruptEvent is raised asynchronously by the device collaborator.
// DispatchID may be empty, in which case the event targets whatever dispatch
// is in flight for Context; both FunctionName and ScopeID must match it.
type InterruptEvent struct {
	Reason     InterruptReason
	Context    ExecutionContext
	DispatchID string
}
