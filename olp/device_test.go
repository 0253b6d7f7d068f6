package olp

import (
	"context"
	"sync"
)

// fakeDevice runs tasks inline and records Halt and Restore calls.
// With hold set, Dispatch blocks after reporting on started until release is
// closed or the dispatch is halted. A Halt for an unknown ID makes the later
// Dispatch for it fail without running the task.
type fakeDevice struct {
	hold    bool
	started chan DispatchRequest
	release chan struct{}

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	halted   map[string]bool
	halts    []string
	restores []uint64
	appState uint64
}

func newFakeDevice(hold bool) *fakeDevice {
	return &fakeDevice{
		hold:    hold,
		started: make(chan DispatchRequest, 64),
		release: make(chan struct{}),
		cancels: make(map[string]context.CancelFunc),
		halted:  make(map[string]bool),
	}
}

func (d *fakeDevice) Dispatch(ctx context.Context, req DispatchRequest) (any, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	if d.halted[req.ID] {
		d.mu.Unlock()
		return nil, context.Canceled
	}
	d.cancels[req.ID] = cancel
	d.mu.Unlock()

	select {
	case d.started <- req:
	default:
	}
	if d.hold {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return req.Task(ctx, req.Data)
}

func (d *fakeDevice) Halt(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.halts = append(d.halts, id)
	if cancel, ok := d.cancels[id]; ok {
		cancel()
	} else {
		d.halted[id] = true
	}
}

func (d *fakeDevice) Restore(ref uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restores = append(d.restores, ref)
	d.appState = ref
}

func (d *fakeDevice) snapshot() (halts []string, restores []uint64, appState uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.halts...), append([]uint64(nil), d.restores...), d.appState
}

// echoTask returns its input.
func echoTask(_ context.Context, data any) (any, error) { return data, nil }
