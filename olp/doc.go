// Package olp provides the offload decision engine and its recovery subsystem.
//
// # Reading Guide
//
// Start with these three files to understand the decision path:
//   - engine.go: Execute, the admission test and the CPU / PIM dispatch paths
//   - recovery.go: the per-scope Idle → Dispatched → (Completed | Recovering) → Idle state machine
//   - checkpoint.go: the single live rollback anchor
//
// # Architecture
//
// The olp package defines interfaces and bridge types; implementations live in
// sub-packages:
//   - olp/trace/: per-scope access windows and the decision log
//   - olp/predict/: the Model interface, its Adapter and the scorers (fixed, rule-based, learned)
//   - olp/hal/: a simulated PIM device that dispatches tasks, injects faults and
//     raises interrupts through an InterruptSink
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - AdmissionPolicy: judge a prediction against confidence and gain thresholds
//   - Device: dispatch a task to PIM, halt an in-flight dispatch, restore a checkpoint
//   - predict.Model: score a trace window and learn from dispatch outcomes
//
// Interrupts are delivered by the device collaborator only, through
// Engine.HandleCriticalInterrupt. Application code never calls it.
package olp
