package payments

import (
	"context"
	"sync"
)

// registry tracks in-flight payments so they can be cancelled by id.
type registry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

func newRegistry() *registry {
	return &registry{
		cancels: make(map[string]context.CancelCauseFunc),
	}
}

// register derives a cancellable context for the payment and tracks it
// until release is called.
func (r *registry) register(ctx context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)

	r.mu.Lock()
	r.cancels[id] = cancel
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		delete(r.cancels, id)
		r.mu.Unlock()
		cancel(nil)
	}
	return ctx, release
}

// cancel aborts the payment if it is still in flight.
func (r *registry) cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	delete(r.cancels, id)
	r.mu.Unlock()

	if ok {
		cancel(errCancelled)
	}
	return ok
}

// cancelAll aborts every in-flight payment. Used during shutdown.
func (r *registry) cancelAll() {
	r.mu.Lock()
	cancels := r.cancels
	r.cancels = make(map[string]context.CancelCauseFunc)
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel(errCancelled)
	}
}
