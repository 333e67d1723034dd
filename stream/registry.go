package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// Registry maps request ids to their adapter for the lifetime of one
// execution. It is an explicit object owned by the caller.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register binds a to requestID.
func (r *Registry) Register(requestID string, a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[requestID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, requestID)
	}
	r.adapters[requestID] = a
	return nil
}

// Get returns the adapter bound to requestID.
func (r *Registry) Get(requestID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, requestID)
	}
	return a, nil
}

// Unregister removes the binding. Removing an unknown id is a no-op.
func (r *Registry) Unregister(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, requestID)
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// WriteSummary forwards ev to the adapter of requestID.
func (r *Registry) WriteSummary(ctx context.Context, requestID string, ev core.SummaryEvent) error {
	a, err := r.Get(requestID)
	if err != nil {
		return err
	}
	return a.WriteSummary(ctx, ev)
}

// WriteOperation forwards ev to the adapter of requestID.
func (r *Registry) WriteOperation(ctx context.Context, requestID string, ev core.OperationEvent) error {
	a, err := r.Get(requestID)
	if err != nil {
		return err
	}
	return a.WriteOperation(ctx, ev)
}
