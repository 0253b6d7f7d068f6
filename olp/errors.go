package olp

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCheckpoint marks an offload refused because no checkpoint was
	// registered. It is a routing reason only and never returned by Execute.
	ErrNoCheckpoint = errors.New("no checkpoint available")

	// ErrCriticalMispredict is returned by Execute after a PIM dispatch was
	// interrupted by a critical misprediction and rolled back.
	ErrCriticalMispredict = errors.New("critical mispredict")

	// ErrHardwareFault is returned by Execute after a PIM dispatch was
	// interrupted by a hardware fault and rolled back.
	ErrHardwareFault = errors.New("hardware fault")

	// ErrProtocolViolation is returned to the interrupt source when an
	// interrupt does not match a dispatch in flight. It never reaches Execute callers.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrContextConflict is returned by SetContext when a scope is already
	// bound to a different function.
	ErrContextConflict = errors.New("execution context conflict")

	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// TaskError wraps a failure of the task body itself. Location tells a CPU-side
// failure apart from a PIM failure; RolledBack is true when the PIM effect was
// undone before the error was returned.
type TaskError struct {
	Location   Location
	DispatchID string
	RolledBack bool
	Err        error
}

func (e *TaskError) Error() string {
	if e.RolledBack {
		return fmt.Sprintf("task failed on %s (dispatch %s, rolled back): %v", e.Location, e.DispatchID, e.Err)
	}
	return fmt.Sprintf("task failed on %s (dispatch %s): %v", e.Location, e.DispatchID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// RecoveryError is returned by Execute when a PIM dispatch was interrupted.
// By the time the caller sees it, state has been restored to Checkpoint and
// no partial PIM effect persists.
type RecoveryError struct {
	Reason     InterruptReason
	DispatchID string
	Context    ExecutionContext
	Checkpoint Checkpoint
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("%v in %s (dispatch %s): rolled back to checkpoint %#x",
		e.Unwrap(), e.Context, e.DispatchID, e.Checkpoint.RecoveryReference)
}

// Unwrap returns ErrHardwareFault or ErrCriticalMispredict.
func (e *RecoveryError) Unwrap() error {
	if e.Reason == ReasonHardwareFault {
		return ErrHardwareFault
	}
	return ErrCriticalMispredict
}
