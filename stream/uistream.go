package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// UIStreamAdapter writes "data: <json>" frames in the UI message stream
// format. A text part stays open across StreamText calls and is closed after
// an idle gap, before any data frame, or on Complete; queued signals are
// written right after the part closes. Data submitted while text is being
// paced waits until the pacing call returns.
type UIStreamAdapter struct {
	w         io.Writer
	flusher   http.Flusher
	opts      Options
	messageID string

	mu        sync.Mutex
	started   bool
	textID    string
	pacing    bool
	idle      *time.Timer
	queue     signalQueue
	held      []heldData
	json      map[string]*jsonBuffer
	completed bool
	watchdog  *Watchdog
}

type heldData struct {
	kind string
	data any
}

// NewUIStreamAdapter returns an adapter writing UI stream frames to w.
func NewUIStreamAdapter(w io.Writer, optFns ...func(o *Options)) *UIStreamAdapter {
	a := &UIStreamAdapter{
		w:         w,
		opts:      defaultOptions(optFns),
		messageID: core.NewID(),
		json:      map[string]*jsonBuffer{},
	}
	a.flusher, _ = w.(http.Flusher)
	if a.opts.MaxLifetime > 0 {
		a.watchdog = NewWatchdog(a.opts.MaxLifetime, a.expire)
	}
	return a
}

// SetUIStreamHeaders prepares an HTTP response for the UI message stream.
func SetUIStreamHeaders(h http.Header) {
	SetSSEHeaders(h)
	h.Set("X-Vercel-AI-UI-Message-Stream", "v1")
}

func (a *UIStreamAdapter) frame(v map[string]any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := a.raw(append(append([]byte("data: "), b...), '\n', '\n')); err != nil {
		return err
	}
	kind, _ := v["type"].(string)
	a.opts.Metrics.IncStreamFrame("ui", kind)
	return nil
}

func (a *UIStreamAdapter) raw(b []byte) error {
	if _, err := a.w.Write(b); err != nil {
		return err
	}
	if a.flusher != nil {
		a.flusher.Flush()
	}
	return nil
}

func (a *UIStreamAdapter) ensureStartedLocked() error {
	if a.started {
		return nil
	}
	a.started = true
	return a.frame(map[string]any{"type": "start", "messageId": a.messageID})
}

// WriteRole implements Adapter. The UI stream has no role frame; the first
// call opens the message.
func (a *UIStreamAdapter) WriteRole(_ context.Context, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return ErrCompleted
	}
	return a.ensureStartedLocked()
}

// StreamText implements Adapter.
func (a *UIStreamAdapter) StreamText(ctx context.Context, text string, delay time.Duration) error {
	a.mu.Lock()
	if a.completed {
		a.mu.Unlock()
		return ErrCompleted
	}
	a.stopIdleLocked()
	if err := a.ensureStartedLocked(); err != nil {
		a.mu.Unlock()
		return err
	}
	if a.textID == "" {
		a.textID = core.NewID()
		if err := a.frame(map[string]any{"type": "text-start", "id": a.textID}); err != nil {
			a.mu.Unlock()
			return err
		}
	}
	a.pacing = true
	id := a.textID
	a.mu.Unlock()

	err := PaceText(ctx, text, delay, func(chunk string) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.completed {
			return ErrCompleted
		}
		return a.frame(map[string]any{"type": "text-delta", "id": id, "delta": chunk})
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	a.pacing = false
	if a.completed {
		return err
	}
	if len(a.held) > 0 {
		return errors.Join(err, a.closeTextLocked(), a.flushHeldLocked())
	}
	a.idle = time.AfterFunc(a.opts.IdleGap, a.onIdle)
	return err
}

func (a *UIStreamAdapter) flushHeldLocked() error {
	held := a.held
	a.held = nil
	var errs []error
	for _, h := range held {
		errs = append(errs, a.dataFrame(h.kind, h.data))
	}
	return errors.Join(errs...)
}

func (a *UIStreamAdapter) onIdle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed || a.pacing {
		return
	}
	if err := a.closeTextLocked(); err != nil {
		a.opts.Logger.Warn("Failed to close text part", "error", err)
	}
}

func (a *UIStreamAdapter) stopIdleLocked() {
	if a.idle != nil {
		a.idle.Stop()
		a.idle = nil
	}
}

// closeTextLocked ends the open text part and flushes queued signals.
func (a *UIStreamAdapter) closeTextLocked() error {
	a.stopIdleLocked()
	var errs []error
	if a.textID != "" {
		errs = append(errs, a.frame(map[string]any{"type": "text-end", "id": a.textID}))
		a.textID = ""
	}
	for _, s := range a.queue.drain() {
		errs = append(errs, a.writeSignal(s))
	}
	return errors.Join(errs...)
}

// WriteData implements Adapter.
func (a *UIStreamAdapter) WriteData(_ context.Context, kind string, payload map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return ErrCompleted
	}
	if a.pacing {
		a.held = append(a.held, heldData{kind: kind, data: payload})
		return nil
	}
	if err := a.beforeDataLocked(); err != nil {
		return err
	}
	return a.dataFrame(kind, payload)
}

func (a *UIStreamAdapter) beforeDataLocked() error {
	if err := a.ensureStartedLocked(); err != nil {
		return err
	}
	return a.closeTextLocked()
}

func (a *UIStreamAdapter) dataFrame(kind string, data any) error {
	f := map[string]any{"type": "data-" + kind, "data": data}
	if m, ok := data.(map[string]any); ok {
		if id, ok := m["id"].(string); ok && id != "" {
			f["id"] = id
		}
	}
	return a.frame(f)
}

// WriteDataFragment appends a piece of a streamed JSON document for kind
// and writes every array item that became complete as its own data frame.
func (a *UIStreamAdapter) WriteDataFragment(_ context.Context, kind, fragment string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return ErrCompleted
	}
	b, ok := a.json[kind]
	if !ok {
		b = &jsonBuffer{limit: a.opts.JSONBufferLimit}
		a.json[kind] = b
	}
	items, err := b.append(fragment)
	if err != nil {
		a.opts.Logger.Debug("Partial JSON not decodable yet", "kind", kind, "error", err)
	}
	if len(items) == 0 {
		return nil
	}
	if a.pacing {
		for _, item := range items {
			a.held = append(a.held, heldData{kind: kind, data: item})
		}
		return nil
	}
	if err := a.beforeDataLocked(); err != nil {
		return err
	}
	for _, item := range items {
		if err := a.dataFrame(kind, item); err != nil {
			return err
		}
	}
	return nil
}

// WriteOperation implements Adapter.
func (a *UIStreamAdapter) WriteOperation(_ context.Context, ev core.OperationEvent) error {
	return a.signal(ev)
}

// WriteSummary implements Adapter.
func (a *UIStreamAdapter) WriteSummary(_ context.Context, ev core.SummaryEvent) error {
	return a.signal(ev)
}

func (a *UIStreamAdapter) signal(s core.Signal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return ErrCompleted
	}
	if a.pacing || a.textID != "" {
		a.queue.push(s)
		return nil
	}
	if err := a.ensureStartedLocked(); err != nil {
		return err
	}
	return a.writeSignal(s)
}

func (a *UIStreamAdapter) writeSignal(s core.Signal) error {
	switch v := s.(type) {
	case core.OperationEvent:
		return a.frame(map[string]any{"type": "data-operation", "id": v.ID, "data": v, "transient": true})
	case core.SummaryEvent:
		return a.frame(map[string]any{"type": "data-summary", "id": v.ID, "data": v, "transient": true})
	default:
		return nil
	}
}

// Complete implements Adapter.
func (a *UIStreamAdapter) Complete(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return nil
	}
	if a.watchdog != nil {
		a.watchdog.Stop()
	}
	a.pacing = false
	errs := []error{a.ensureStartedLocked(), a.closeTextLocked(), a.flushHeldLocked()}
	a.completed = true
	a.json = nil
	errs = append(errs,
		a.frame(map[string]any{"type": "finish"}),
		a.raw([]byte("data: [DONE]\n\n")),
	)
	return errors.Join(errs...)
}

func (a *UIStreamAdapter) expire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return
	}
	a.completed = true
	a.stopIdleLocked()
	a.queue.drain()
	a.held = nil
	a.json = nil
	a.opts.Metrics.IncWatchdogExpiry("ui")
	a.opts.Logger.Warn("Stream lifetime exceeded, closing", "adapter", "ui")
	_ = a.frame(map[string]any{"type": "error", "errorText": "stream lifetime exceeded"})
	_ = a.raw([]byte("data: [DONE]\n\n"))
}
