package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/stream"
)

// consoleAdapter prints a turn to a terminal. Text is paced the same way the
// network adapters pace it.
type consoleAdapter struct {
	mu        sync.Mutex
	w         io.Writer
	completed bool
	midLine   bool
	inFlight  bool
	// pending holds signal lines that arrived while text was being paced.
	pending []string
}

var _ stream.Adapter = (*consoleAdapter)(nil)

func newConsoleAdapter(w io.Writer) *consoleAdapter { return &consoleAdapter{w: w} }

func (a *consoleAdapter) print(format string, args ...any) error {
	if a.completed {
		return stream.ErrCompleted
	}
	_, err := fmt.Fprintf(a.w, format, args...)
	return err
}

// line prints on a fresh line.
func (a *consoleAdapter) line(s string) error {
	prefix := ""
	if a.midLine {
		prefix = "\n"
	}
	a.midLine = false
	return a.print("%s%s\n", prefix, s)
}

func (a *consoleAdapter) WriteRole(_ context.Context, role string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.line(cyan(bold(role + ":")))
}

func (a *consoleAdapter) StreamText(ctx context.Context, text string, delay time.Duration) error {
	a.mu.Lock()
	a.inFlight = true
	a.mu.Unlock()

	err := stream.PaceText(ctx, text, delay, func(chunk string) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.midLine = true
		return a.print("%s", chunk)
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight = false
	return errors.Join(err, a.flushLocked())
}

func (a *consoleAdapter) signal(s string) error {
	if a.inFlight {
		a.pending = append(a.pending, s)
		return nil
	}
	return a.line(s)
}

func (a *consoleAdapter) flushLocked() error {
	var errs []error
	for _, s := range a.pending {
		errs = append(errs, a.line(s))
	}
	a.pending = nil
	return errors.Join(errs...)
}

func (a *consoleAdapter) WriteData(_ context.Context, kind string, payload map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return a.line(yellow(fmt.Sprintf("[%s] %s", kind, raw)))
}

func (a *consoleAdapter) WriteOperation(_ context.Context, ev core.OperationEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(ev.Payload) == 0 {
		return a.signal(gray(fmt.Sprintf("· %s", ev.Kind)))
	}
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	return a.signal(gray(fmt.Sprintf("· %s %s", ev.Kind, raw)))
}

func (a *consoleAdapter) WriteSummary(_ context.Context, ev core.SummaryEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signal(gray(fmt.Sprintf("… %s", ev.Text)))
}

func (a *consoleAdapter) Complete(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return nil
	}
	a.inFlight = false
	err := a.flushLocked()
	if a.midLine {
		err = errors.Join(err, a.print("\n"))
		a.midLine = false
	}
	a.completed = true
	return err
}
