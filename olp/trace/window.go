package trace

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultWindowCapacity is the number of records retained per scope when the
// store is created with a non-positive capacity.
const DefaultWindowCapacity = 100

// ErrInvalidScope is returned by Record for negative scope IDs. Such records
// are never stored.
var ErrInvalidScope = errors.New("invalid scope id")

// ErrInvalidAccessKind is returned by Record for kinds other than read and
// write. Such records are never stored.
var ErrInvalidAccessKind = errors.New("invalid access kind")

// ring is a fixed-capacity circular buffer of records for one scope.
type ring struct {
	mu    sync.Mutex
	buf   []Record
	head  int // index of the oldest record
	size  int
	lastT int64
}

func (r *ring) push(rec Record) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = rec
		r.size++
		return
	}
	// full: overwrite the oldest and advance head
	r.buf[r.head] = rec
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring) snapshot() []Record {
	out := make([]Record, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// WindowStore keeps the most recent accesses per scope.
//
// Thread-safety: safe for concurrent use. Each scope has its own lock, so
// writers on different scopes never contend; the scope map itself is guarded
// by an RWMutex that is only write-locked when a scope is first seen.
type WindowStore struct {
	capacity int
	epoch    time.Time

	mu     sync.RWMutex
	scopes map[int64]*ring
}

// NewWindowStore creates a store retaining up to capacity records per scope.
// A non-positive capacity selects DefaultWindowCapacity.
func NewWindowStore(capacity int) *WindowStore {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &WindowStore{
		capacity: capacity,
		epoch:    time.Now(),
		scopes:   make(map[int64]*ring),
	}
}

// Capacity returns the per-scope window size.
func (s *WindowStore) Capacity() int { return s.capacity }

func (s *WindowStore) lookup(scopeID int64) *ring {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scopes[scopeID]
}

func (s *WindowStore) lookupOrCreate(scopeID int64) *ring {
	if r := s.lookup(scopeID); r != nil {
		return r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.scopes[scopeID]; ok {
		return r
	}
	r := &ring{buf: make([]Record, s.capacity)}
	s.scopes[scopeID] = r
	return r
}

// Record appends an access to the scope's window, evicting the oldest record
// when the window is full. Timestamps are strictly increasing within a scope.
// An empty kind is recorded as a read.
func (s *WindowStore) Record(scopeID int64, address uint64, kind AccessKind) error {
	if scopeID < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidScope, scopeID)
	}
	if !IsValidAccessKind(string(kind)) {
		return fmt.Errorf("%w: %q", ErrInvalidAccessKind, kind)
	}
	if kind == "" {
		kind = AccessRead
	}
	r := s.lookupOrCreate(scopeID)

	r.mu.Lock()
	defer r.mu.Unlock()
	ts := time.Since(s.epoch).Nanoseconds()
	if ts <= r.lastT {
		ts = r.lastT + 1
	}
	r.lastT = ts
	r.push(Record{ScopeID: scopeID, Address: address, Timestamp: ts, Kind: kind})
	return nil
}

// RecordAll appends accesses in order. Stops at the first error.
func (s *WindowStore) RecordAll(scopeID int64, accesses []Access) error {
	for _, a := range accesses {
		if err := s.Record(scopeID, a.Address, a.Kind); err != nil {
			return err
		}
	}
	return nil
}

// Window returns a copy of the scope's retained records, oldest first.
// Unseen scopes yield an empty, non-nil slice.
func (s *WindowStore) Window(scopeID int64) []Record {
	r := s.lookup(scopeID)
	if r == nil {
		return []Record{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Len returns the number of records currently retained for the scope.
func (s *WindowStore) Len(scopeID int64) int {
	r := s.lookup(scopeID)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Reset drops every record retained for the scope.
func (s *WindowStore) Reset(scopeID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes, scopeID)
}

// Scopes returns the sorted IDs of all scopes with a window.
func (s *WindowStore) Scopes() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.scopes))
	for id := range s.scopes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
