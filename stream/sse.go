package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"

	"github.com/hupe1980/agentrelay/core"
)

// SetSSEHeaders prepares an HTTP response for event streaming.
func SetSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering
}

// SSEAdapter writes named server-sent events: role, text, data, operation,
// summary, error and done.
type SSEAdapter struct {
	w       io.Writer
	flusher http.Flusher
	opts    Options

	mu        sync.Mutex
	inFlight  bool
	queue     signalQueue
	completed bool
	watchdog  *Watchdog
}

// NewSSEAdapter returns an adapter writing to w. When w is an http.Flusher
// every event is flushed.
func NewSSEAdapter(w io.Writer, optFns ...func(o *Options)) *SSEAdapter {
	a := &SSEAdapter{w: w, opts: defaultOptions(optFns)}
	a.flusher, _ = w.(http.Flusher)
	if a.opts.MaxLifetime > 0 {
		a.watchdog = NewWatchdog(a.opts.MaxLifetime, a.expire)
	}
	return a
}

func (a *SSEAdapter) write(event string, data any) error {
	if err := sse.Encode(a.w, sse.Event{Event: event, Data: data}); err != nil {
		return err
	}
	if a.flusher != nil {
		a.flusher.Flush()
	}
	a.opts.Metrics.IncStreamFrame("sse", event)
	return nil
}

// WriteRole implements Adapter.
func (a *SSEAdapter) WriteRole(_ context.Context, role string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return ErrCompleted
	}
	return a.write("role", map[string]any{"role": role})
}

// StreamText implements Adapter. Signals arriving while the text is paced
// out are written after its last word.
func (a *SSEAdapter) StreamText(ctx context.Context, text string, delay time.Duration) error {
	a.mu.Lock()
	if a.completed {
		a.mu.Unlock()
		return ErrCompleted
	}
	a.inFlight = true
	a.mu.Unlock()

	err := PaceText(ctx, text, delay, func(chunk string) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.completed {
			return ErrCompleted
		}
		return a.write("text", map[string]any{"text": chunk})
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight = false
	return errors.Join(err, a.flushLocked())
}

// WriteData implements Adapter.
func (a *SSEAdapter) WriteData(_ context.Context, kind string, payload map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return ErrCompleted
	}
	return a.write("data", map[string]any{"kind": kind, "payload": payload})
}

// WriteOperation implements Adapter.
func (a *SSEAdapter) WriteOperation(_ context.Context, ev core.OperationEvent) error {
	return a.signal(ev)
}

// WriteSummary implements Adapter.
func (a *SSEAdapter) WriteSummary(_ context.Context, ev core.SummaryEvent) error {
	return a.signal(ev)
}

func (a *SSEAdapter) signal(s core.Signal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return ErrCompleted
	}
	if a.inFlight {
		a.queue.push(s)
		return nil
	}
	return a.writeSignal(s)
}

func (a *SSEAdapter) writeSignal(s core.Signal) error {
	switch v := s.(type) {
	case core.OperationEvent:
		return a.write("operation", v)
	case core.SummaryEvent:
		return a.write("summary", v)
	default:
		return nil
	}
}

func (a *SSEAdapter) flushLocked() error {
	var errs []error
	for _, s := range a.queue.drain() {
		if err := a.writeSignal(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Complete implements Adapter.
func (a *SSEAdapter) Complete(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return nil
	}
	if a.watchdog != nil {
		a.watchdog.Stop()
	}
	a.inFlight = false
	err := a.flushLocked()
	a.completed = true
	return errors.Join(err, a.write("done", map[string]any{}))
}

func (a *SSEAdapter) expire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return
	}
	a.completed = true
	a.queue.drain()
	a.opts.Metrics.IncWatchdogExpiry("sse")
	a.opts.Logger.Warn("Stream lifetime exceeded, closing", "adapter", "sse")
	_ = a.write("error", map[string]any{"message": "stream lifetime exceeded"})
}
