package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// BufferingAdapter performs no I/O. It accumulates everything written for
// callers that want the whole answer at once.
type BufferingAdapter struct {
	mu         sync.Mutex
	role       string
	text       strings.Builder
	units      []core.Unit
	operations []core.OperationEvent
	summaries  []core.SummaryEvent
	completed  bool
}

// NewBufferingAdapter returns an empty buffering adapter.
func NewBufferingAdapter() *BufferingAdapter { return &BufferingAdapter{} }

// WriteRole implements Adapter.
func (a *BufferingAdapter) WriteRole(_ context.Context, role string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return ErrCompleted
	}
	a.role = role
	return nil
}

// StreamText implements Adapter. The delay is ignored.
func (a *BufferingAdapter) StreamText(_ context.Context, text string, _ time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return ErrCompleted
	}
	a.text.WriteString(text)
	a.units = append(a.units, core.TextUnit{Text: text})
	return nil
}

// WriteData implements Adapter.
func (a *BufferingAdapter) WriteData(_ context.Context, kind string, payload map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return ErrCompleted
	}
	u := core.DataUnit{Kind: kind, Payload: payload}
	if id, ok := payload["id"].(string); ok {
		u.ID = id
	}
	a.units = append(a.units, u)
	return nil
}

// WriteOperation implements Adapter.
func (a *BufferingAdapter) WriteOperation(_ context.Context, ev core.OperationEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return ErrCompleted
	}
	a.operations = append(a.operations, ev)
	return nil
}

// WriteSummary implements Adapter.
func (a *BufferingAdapter) WriteSummary(_ context.Context, ev core.SummaryEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return ErrCompleted
	}
	a.summaries = append(a.summaries, ev)
	return nil
}

// Complete implements Adapter.
func (a *BufferingAdapter) Complete(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completed = true
	return nil
}

// Role returns the last role written.
func (a *BufferingAdapter) Role() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.role
}

// Text returns all text written so far.
func (a *BufferingAdapter) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text.String()
}

// Units returns the text and data units in write order, adjacent text merged.
func (a *BufferingAdapter) Units() []core.Unit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return core.CoalesceUnits(a.units)
}

// Operations returns the operations written so far.
func (a *BufferingAdapter) Operations() []core.OperationEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]core.OperationEvent(nil), a.operations...)
}

// Summaries returns the summaries written so far.
func (a *BufferingAdapter) Summaries() []core.SummaryEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]core.SummaryEvent(nil), a.summaries...)
}

// Completed reports whether Complete was called.
func (a *BufferingAdapter) Completed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}
