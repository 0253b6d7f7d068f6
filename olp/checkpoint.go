package olp

import (
	"sync"
	"sync/atomic"
	"time"
)

// Checkpoint is the last known-good recoverable state reference.
type Checkpoint struct {
	RecoveryReference uint64
	RegisteredAt      time.Time
	Seq               uint64 // registration sequence number, starting at 1
	Name              string // optional label for diagnostics
}

// CheckpointStore holds the single live Checkpoint.
//
// Thread-safety: writers are serialized by a mutex and publish through an
// atomic pointer, so readers never block and always see a complete
// Checkpoint. A registration has no effect on dispatches already in flight:
// those keep the checkpoint they snapshotted at admission.
type CheckpointStore struct {
	writeMu sync.Mutex
	current atomic.Pointer[Checkpoint]
	seq     uint64
	now     func() time.Time
}

// NewCheckpointStore creates an empty store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{now: time.Now}
}

// Register stores ref as the live checkpoint, replacing any previous one.
func (s *CheckpointStore) Register(ref uint64) Checkpoint {
	return s.RegisterNamed(ref, "")
}

// RegisterNamed is Register with a diagnostic label.
func (s *CheckpointStore) RegisterNamed(ref uint64, name string) Checkpoint {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.seq++
	cp := &Checkpoint{
		RecoveryReference: ref,
		RegisteredAt:      s.now(),
		Seq:               s.seq,
		Name:              name,
	}
	s.current.Store(cp)
	return *cp
}

// Current returns the live checkpoint, if any.
func (s *CheckpointStore) Current() (Checkpoint, bool) {
	cp := s.current.Load()
	if cp == nil {
		return Checkpoint{}, false
	}
	return *cp, true
}

// Registered returns how many checkpoints have been registered.
func (s *CheckpointStore) Registered() uint64 {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.seq
}
