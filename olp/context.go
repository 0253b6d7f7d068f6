package olp

import (
	"fmt"
	"sync"

	"github.com/olp-runtime/olp/olp/trace"
)

// ExecutionContext identifies a tracked call site. It is registered once per
// scope through Engine.SetContext and is immutable afterwards.
type ExecutionContext struct {
	FunctionName string
	ScopeID      int64
}

func (ec ExecutionContext) String() string {
	return fmt.Sprintf("%s_%d", ec.FunctionName, ec.ScopeID)
}

// contextRegistry binds scope IDs to the function that owns them.
type contextRegistry struct {
	mu       sync.RWMutex
	contexts map[int64]ExecutionContext
}

func newContextRegistry() *contextRegistry {
	return &contextRegistry{contexts: make(map[int64]ExecutionContext)}
}

// bind registers ec. Re-binding the same context is a no-op; binding a scope
// to a different function fails with ErrContextConflict.
func (r *contextRegistry) bind(ec ExecutionContext) (ExecutionContext, error) {
	if ec.ScopeID < 0 {
		return ExecutionContext{}, fmt.Errorf("%w: %d", trace.ErrInvalidScope, ec.ScopeID)
	}
	if ec.FunctionName == "" {
		return ExecutionContext{}, fmt.Errorf("%w: function name must not be empty", ErrContextConflict)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.contexts[ec.ScopeID]; ok {
		if existing != ec {
			return existing, fmt.Errorf("%w: scope %d is bound to %q, not %q",
				ErrContextConflict, ec.ScopeID, existing.FunctionName, ec.FunctionName)
		}
		return existing, nil
	}
	r.contexts[ec.ScopeID] = ec
	return ec, nil
}

// known reports whether ec was registered exactly as given.
func (r *contextRegistry) known(ec ExecutionContext) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	existing, ok := r.contexts[ec.ScopeID]
	return ok && existing == ec
}

func (r *contextRegistry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contexts)
}
