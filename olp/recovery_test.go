package olp

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olp-runtime/olp/olp/internal/testutil"
	"github.com/olp-runtime/olp/olp/predict"
)

func newTestRecovery(cfg RecoveryConfig) (*Recovery, *fakeDevice, *predict.FixedScorer) {
	dev := newFakeDevice(false)
	scorer := predict.NewFixedScorer(predict.Result{})
	return NewRecovery(dev, predict.NewAdapter(scorer), cfg), dev, scorer
}

func TestRecovery_Arm_OnlyFromIdle(t *testing.T) {
	r, _, _ := newTestRecovery(RecoveryConfig{})
	ec := ExecutionContext{FunctionName: "f", ScopeID: 1}

	d, ok := r.arm(ec, "a", Checkpoint{RecoveryReference: 1}, predict.Result{}, nil)
	require.True(t, ok)
	assert.Equal(t, StateDispatched, r.State(1))

	_, ok = r.arm(ec, "b", Checkpoint{}, predict.Result{}, nil)
	assert.False(t, ok, "second arm while dispatched must fail")

	// other scopes are independent
	_, ok = r.arm(ExecutionContext{FunctionName: "g", ScopeID: 2}, "c", Checkpoint{}, predict.Result{}, nil)
	assert.True(t, ok)

	assert.True(t, r.complete(d))
	assert.Equal(t, StateIdle, r.State(1))
	assert.False(t, r.complete(d), "completion is at most once")
}

func TestRecovery_State_UnseenScopeIsIdle(t *testing.T) {
	r, _, _ := newTestRecovery(RecoveryConfig{})
	assert.Equal(t, StateIdle, r.State(12345))
	assert.Empty(t, r.InFlight())
}

func TestRecovery_HandleInterrupt_RollbackOrder(t *testing.T) {
	// GIVEN an armed dispatch with a regular window
	r, dev, scorer := newTestRecovery(RecoveryConfig{})
	ec := ExecutionContext{FunctionName: "f", ScopeID: 3}
	window := testutil.StridedWindow(3, 4, 0, 8)
	d, ok := r.arm(ec, "d1", Checkpoint{RecoveryReference: 0xCAFE}, predict.Result{Confidence: 0.9, PredictedGain: 0.4}, window)
	require.True(t, ok)

	// WHEN an interrupt arrives for it
	err := r.HandleInterrupt(context.Background(), InterruptEvent{Reason: ReasonCriticalMispredict, Context: ec, DispatchID: "d1"})
	require.NoError(t, err)

	// THEN the device was halted then restored, the model got the failure, and the waiter is woken
	halts, restores, _ := dev.snapshot()
	assert.Equal(t, []string{"d1"}, halts)
	assert.Equal(t, []uint64{0xCAFE}, restores)
	fb := scorer.Received()
	require.Len(t, fb, 1)
	assert.Equal(t, predict.OutcomeFailure, fb[0].Outcome)
	assert.Equal(t, 0.4, fb[0].PredictedGain)
	assert.Equal(t, window, fb[0].Window)
	assert.Equal(t, StateIdle, r.State(3))

	select {
	case err := <-d.terminal:
		assert.ErrorIs(t, err, ErrCriticalMispredict)
	default:
		t.Fatal("terminal error was not delivered")
	}

	// AND a late completion loses the race
	assert.False(t, r.complete(d))
	assert.Equal(t, int64(1), r.Rollbacks())
}

func TestRecovery_Fail_AfterInterrupt_ReturnsFalse(t *testing.T) {
	r, dev, _ := newTestRecovery(RecoveryConfig{})
	ec := ExecutionContext{FunctionName: "f", ScopeID: 1}
	d, _ := r.arm(ec, "d1", Checkpoint{RecoveryReference: 5}, predict.Result{}, nil)

	require.NoError(t, r.HandleInterrupt(context.Background(), InterruptEvent{Reason: ReasonHardwareFault, Context: ec}))

	assert.False(t, r.fail(context.Background(), d, assert.AnError))
	_, restores, _ := dev.snapshot()
	assert.Len(t, restores, 1)
}

func TestRecovery_ConcurrentInterruptAndCompletion_ExactlyOneWins(t *testing.T) {
	for i := 0; i < 200; i++ {
		r, dev, _ := newTestRecovery(RecoveryConfig{})
		ec := ExecutionContext{FunctionName: "f", ScopeID: 1}
		d, _ := r.arm(ec, "d", Checkpoint{RecoveryReference: 9}, predict.Result{}, nil)

		var completed bool
		var interruptErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			completed = r.complete(d)
		}()
		go func() {
			defer wg.Done()
			interruptErr = r.HandleInterrupt(context.Background(), InterruptEvent{Reason: ReasonCriticalMispredict, Context: ec, DispatchID: "d"})
		}()
		wg.Wait()

		_, restores, _ := dev.snapshot()
		if completed {
			if interruptErr == nil || len(restores) != 0 {
				t.Fatalf("iteration %d: completion won but interrupt was applied", i)
			}
		} else {
			if interruptErr != nil || len(restores) != 1 {
				t.Fatalf("iteration %d: interrupt won but restores=%v err=%v", i, restores, interruptErr)
			}
		}
		assert.Equal(t, StateIdle, r.State(1))
	}
}

func TestRecovery_ConfidenceFloor_ConsumesEscalationWindow(t *testing.T) {
	r, _, _ := newTestRecovery(RecoveryConfig{EscalatedConfidence: 0.99999, EscalationWindow: 2})
	ec := ExecutionContext{FunctionName: "f", ScopeID: 4}

	assert.Equal(t, 0.0, r.confidenceFloor(4), "no escalation before any rollback")

	_, _ = r.arm(ec, "d", Checkpoint{}, predict.Result{}, nil)
	require.NoError(t, r.HandleInterrupt(context.Background(), InterruptEvent{Reason: ReasonCriticalMispredict, Context: ec}))

	assert.Equal(t, 0.99999, r.confidenceFloor(4))
	assert.Equal(t, 0.99999, r.confidenceFloor(4))
	assert.Equal(t, 0.0, r.confidenceFloor(4))
	assert.Equal(t, 0.0, r.confidenceFloor(5), "other scopes are not escalated")
}

func TestRecovery_ConfidenceFloor_DisabledByDefault(t *testing.T) {
	cfg := DefaultConfig()
	r, _, _ := newTestRecovery(cfg.RecoveryConfig())
	ec := ExecutionContext{FunctionName: "f", ScopeID: 4}
	_, _ = r.arm(ec, "d", Checkpoint{}, predict.Result{}, nil)
	require.NoError(t, r.HandleInterrupt(context.Background(), InterruptEvent{Reason: ReasonCriticalMispredict, Context: ec}))

	assert.Equal(t, 0.0, r.confidenceFloor(4))
}

func TestRecovery_HandleInterrupt_WrongFunctionIsViolation(t *testing.T) {
	// GIVEN a dispatch in flight for f in scope 6
	r, dev, _ := newTestRecovery(RecoveryConfig{})
	ec := ExecutionContext{FunctionName: "f", ScopeID: 6}
	d, ok := r.arm(ec, "d6", Checkpoint{RecoveryReference: 1}, predict.Result{}, nil)
	require.True(t, ok)

	// WHEN an interrupt names the same scope but another function
	err := r.HandleInterrupt(context.Background(), InterruptEvent{
		Reason: ReasonCriticalMispredict, Context: ExecutionContext{FunctionName: "g", ScopeID: 6},
	})

	// THEN it is a protocol violation and the dispatch is untouched
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Equal(t, int64(1), r.Violations())
	assert.Equal(t, StateDispatched, r.State(6))
	halts, restores, _ := dev.snapshot()
	assert.Empty(t, halts)
	assert.Empty(t, restores)
	assert.True(t, r.complete(d))
}

func TestRecovery_Live_FalseOnceInterrupted(t *testing.T) {
	r, _, _ := newTestRecovery(RecoveryConfig{})
	ec := ExecutionContext{FunctionName: "f", ScopeID: 7}
	d, ok := r.arm(ec, "d7", Checkpoint{}, predict.Result{}, nil)
	require.True(t, ok)
	assert.True(t, r.live(d))

	require.NoError(t, r.HandleInterrupt(context.Background(), InterruptEvent{Reason: ReasonCriticalMispredict, Context: ec}))

	assert.False(t, r.live(d))
	// a newer dispatch in the same scope does not revive the old handle
	_, ok = r.arm(ec, "d8", Checkpoint{}, predict.Result{}, nil)
	require.True(t, ok)
	assert.False(t, r.live(d))
}
