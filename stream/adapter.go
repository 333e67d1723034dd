// Package stream provides the transport adapters a request's output is
// written to: SSE framed, UI-stream framed and buffering.
//
// All adapters share one ordering rule. Operation and summary signals that
// arrive while a text unit is being paced out are queued and flushed in
// submission order once the unit has ended.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/metrics"
)

var (
	// ErrCompleted is returned by writes after Complete or a watchdog expiry.
	ErrCompleted = errors.New("stream completed")
	// ErrAlreadyRegistered is returned when a request id already has an adapter.
	ErrAlreadyRegistered = errors.New("adapter already registered")
	// ErrAdapterNotFound is returned when no adapter is registered for a request id.
	ErrAdapterNotFound = errors.New("adapter not found")
)

const (
	// DefaultMaxLifetime is the watchdog deadline for an adapter.
	DefaultMaxLifetime = 10 * time.Minute
	// DefaultIdleGap closes an open UI-stream text part.
	DefaultIdleGap = 150 * time.Millisecond
	// DefaultJSONBufferLimit caps the UI-stream partial JSON buffer.
	DefaultJSONBufferLimit = 64 << 10
)

// Adapter is the emission contract every transport implements.
type Adapter interface {
	WriteRole(ctx context.Context, role string) error
	StreamText(ctx context.Context, text string, delay time.Duration) error
	WriteData(ctx context.Context, kind string, payload map[string]any) error
	WriteOperation(ctx context.Context, ev core.OperationEvent) error
	WriteSummary(ctx context.Context, ev core.SummaryEvent) error
	// Complete flushes and closes the stream. Only the first call has an effect.
	Complete(ctx context.Context) error
}

// Options configures the transport adapters.
type Options struct {
	Logger logging.Logger
	// MaxLifetime bounds how long an adapter may stay open. Zero disables the watchdog.
	MaxLifetime time.Duration
	// IdleGap is used by the UI-stream adapter only.
	IdleGap time.Duration
	// JSONBufferLimit is used by the UI-stream adapter only.
	JSONBufferLimit int
	Metrics         *metrics.Metrics
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Logger:          logging.NoOpLogger{},
		MaxLifetime:     DefaultMaxLifetime,
		IdleGap:         DefaultIdleGap,
		JSONBufferLimit: DefaultJSONBufferLimit,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNop(opts.Logger)
	if opts.IdleGap <= 0 {
		opts.IdleGap = DefaultIdleGap
	}
	if opts.JSONBufferLimit <= 0 {
		opts.JSONBufferLimit = DefaultJSONBufferLimit
	}
	return opts
}

// Emit writes one unit to a. Unknown unit types are an error.
func Emit(ctx context.Context, a Adapter, u core.Unit, delay time.Duration) error {
	switch v := u.(type) {
	case core.TextUnit:
		return a.StreamText(ctx, v.Text, delay)
	case core.DataUnit:
		return a.WriteData(ctx, v.Kind, DataPayload(v))
	default:
		return fmt.Errorf("stream: unsupported unit %T", u)
	}
}

// EmitSignal writes one signal to a. Unknown signal types are an error.
func EmitSignal(ctx context.Context, a Adapter, s core.Signal) error {
	switch v := s.(type) {
	case core.OperationEvent:
		return a.WriteOperation(ctx, v)
	case core.SummaryEvent:
		return a.WriteSummary(ctx, v)
	default:
		return fmt.Errorf("stream: unsupported signal %T", s)
	}
}

// DataPayload flattens a data unit into the payload written on the wire. The
// unit id is stored under "id".
func DataPayload(u core.DataUnit) map[string]any {
	out := make(map[string]any, len(u.Payload)+1)
	for k, v := range u.Payload {
		out[k] = v
	}
	if u.ID != "" {
		out["id"] = u.ID
	}
	return out
}

// signalQueue holds signals that must wait for an in-flight text unit.
type signalQueue struct {
	items []core.Signal
}

func (q *signalQueue) push(s core.Signal) { q.items = append(q.items, s) }

func (q *signalQueue) drain() []core.Signal {
	out := q.items
	q.items = nil
	return out
}

// PaceText splits text into words and calls write for each, sleeping delay in
// between. A zero delay writes the text in one piece.
func PaceText(ctx context.Context, text string, delay time.Duration, write func(chunk string) error) error {
	if delay <= 0 {
		return write(text)
	}
	for i, w := range splitWords(text) {
		if i > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err := write(w); err != nil {
			return err
		}
	}
	return nil
}

// splitWords cuts text after each run of whitespace so that concatenating
// the result yields text again.
func splitWords(text string) []string {
	var out []string
	start := 0
	inSpace := false
	for i, r := range text {
		space := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if inSpace && !space {
			out = append(out, text[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
