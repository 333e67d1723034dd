package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/stream"
)

// RecordingAdapter is a stream.Adapter that keeps an ordered log of every
// write, rendered as short strings:
//
//	role:assistant, text:Hello, data:chart, op:handoff, summary:progress, complete
type RecordingAdapter struct {
	mu        sync.Mutex
	log       []string
	completes int
	// FailAfter makes every write after the given count return an error. Zero disables it.
	FailAfter int
}

var _ stream.Adapter = (*RecordingAdapter)(nil)

// NewRecordingAdapter returns an empty recorder.
func NewRecordingAdapter() *RecordingAdapter { return &RecordingAdapter{} }

func (a *RecordingAdapter) record(entry string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailAfter > 0 && len(a.log) >= a.FailAfter {
		return fmt.Errorf("recording adapter: write %q refused", entry)
	}
	a.log = append(a.log, entry)
	return nil
}

// WriteRole implements stream.Adapter.
func (a *RecordingAdapter) WriteRole(_ context.Context, role string) error {
	return a.record("role:" + role)
}

// StreamText implements stream.Adapter.
func (a *RecordingAdapter) StreamText(_ context.Context, text string, _ time.Duration) error {
	return a.record("text:" + text)
}

// WriteData implements stream.Adapter.
func (a *RecordingAdapter) WriteData(_ context.Context, kind string, _ map[string]any) error {
	return a.record("data:" + kind)
}

// WriteOperation implements stream.Adapter.
func (a *RecordingAdapter) WriteOperation(_ context.Context, ev core.OperationEvent) error {
	return a.record("op:" + string(ev.Kind))
}

// WriteSummary implements stream.Adapter.
func (a *RecordingAdapter) WriteSummary(_ context.Context, ev core.SummaryEvent) error {
	return a.record("summary:" + ev.Kind)
}

// Complete implements stream.Adapter.
func (a *RecordingAdapter) Complete(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completes++
	if a.completes == 1 {
		a.log = append(a.log, "complete")
	}
	return nil
}

// Log returns the recorded entries in write order.
func (a *RecordingAdapter) Log() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.log...)
}

// Completes returns how often Complete was called.
func (a *RecordingAdapter) Completes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completes
}
