package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

var (
	_ Adapter = (*SSEAdapter)(nil)
	_ Adapter = (*UIStreamAdapter)(nil)
	_ Adapter = (*BufferingAdapter)(nil)
)

// syncBuffer is a goroutine safe writer that signals the first write
// containing marker.
type syncBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	marker string
	seen   chan struct{}
	once   sync.Once
}

func newSyncBuffer(marker string) *syncBuffer {
	return &syncBuffer{marker: marker, seen: make(chan struct{})}
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.marker != "" && bytes.Contains(p, []byte(b.marker)) {
		b.once.Do(func() { close(b.seen) })
	}
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var sseEventRe = regexp.MustCompile(`(?m)^event: ?(\S+)$`)

func sseEvents(out string) []string {
	var names []string
	for _, m := range sseEventRe.FindAllStringSubmatch(out, -1) {
		names = append(names, m[1])
	}
	return names
}

func uiFrameTypes(t *testing.T, out string) []string {
	t.Helper()
	var types []string
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			types = append(types, "[DONE]")
			continue
		}
		var f map[string]any
		require.NoError(t, json.Unmarshal([]byte(payload), &f))
		types = append(types, f["type"].(string))
	}
	return types
}

func TestSSEAdapter_OperationWaitsForInFlightText(t *testing.T) {
	out := newSyncBuffer("text")
	a := NewSSEAdapter(out)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- a.StreamText(ctx, "one two three", 20*time.Millisecond) }()

	<-out.seen
	require.NoError(t, a.WriteOperation(ctx, core.NewOperation(core.OperationAgentCall, nil)))
	require.NoError(t, a.WriteSummary(ctx, core.NewSummary("status", "working")))
	require.NoError(t, <-done)
	require.NoError(t, a.Complete(ctx))

	assert.Equal(t, []string{"text", "text", "text", "operation", "summary", "done"}, sseEvents(out.String()))
}

func TestSSEAdapter_CompleteIsIdempotent(t *testing.T) {
	out := newSyncBuffer("")
	a := NewSSEAdapter(out)
	ctx := context.Background()

	require.NoError(t, a.WriteRole(ctx, core.RoleAssistant))
	require.NoError(t, a.Complete(ctx))
	require.NoError(t, a.Complete(ctx))

	assert.Equal(t, []string{"role", "done"}, sseEvents(out.String()))
	assert.ErrorIs(t, a.StreamText(ctx, "late", 0), ErrCompleted)
}

func TestSSEAdapter_WatchdogClosesAbandonedStream(t *testing.T) {
	out := newSyncBuffer("")
	a := NewSSEAdapter(out, func(o *Options) { o.MaxLifetime = 20 * time.Millisecond })

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "stream lifetime exceeded")
	}, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	assert.ErrorIs(t, a.WriteData(ctx, "chart", nil), ErrCompleted)
	assert.NoError(t, a.Complete(ctx))
	assert.Equal(t, []string{"error"}, sseEvents(out.String()))
}

func TestUIStreamAdapter_DataClosesTextAndFlushesSignals(t *testing.T) {
	out := newSyncBuffer("")
	a := NewUIStreamAdapter(out, func(o *Options) { o.IdleGap = time.Minute })
	ctx := context.Background()

	require.NoError(t, a.StreamText(ctx, "Hello", 0))
	require.NoError(t, a.WriteOperation(ctx, core.NewOperation(core.OperationHandoff, nil)))
	require.NoError(t, a.WriteData(ctx, "chart", map[string]any{"id": "c1"}))
	require.NoError(t, a.Complete(ctx))
	require.NoError(t, a.Complete(ctx))

	assert.Equal(t, []string{
		"start", "text-start", "text-delta", "text-end",
		"data-operation", "data-chart", "finish", "[DONE]",
	}, uiFrameTypes(t, out.String()))
}

func TestUIStreamAdapter_DataWaitsForPacedText(t *testing.T) {
	out := newSyncBuffer("")
	a := NewUIStreamAdapter(out, func(o *Options) { o.IdleGap = time.Minute })
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- a.StreamText(ctx, "one two three", 50*time.Millisecond) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "text-delta")
	}, time.Second, time.Millisecond)
	require.NoError(t, a.WriteData(ctx, "chart", map[string]any{"id": "c1"}))
	assert.NotContains(t, out.String(), "data-chart")

	require.NoError(t, <-done)
	require.NoError(t, a.Complete(ctx))

	assert.Equal(t, []string{
		"start", "text-start", "text-delta", "text-delta", "text-delta", "text-end",
		"data-chart", "finish", "[DONE]",
	}, uiFrameTypes(t, out.String()))
}

func TestUIStreamAdapter_IdleGapClosesTextPart(t *testing.T) {
	out := newSyncBuffer("")
	a := NewUIStreamAdapter(out, func(o *Options) { o.IdleGap = 10 * time.Millisecond })
	ctx := context.Background()

	require.NoError(t, a.StreamText(ctx, "Hi", 0))
	require.NoError(t, a.WriteSummary(ctx, core.NewSummary("status", "still here")))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "data-summary")
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"start", "text-start", "text-delta", "text-end", "data-summary"},
		uiFrameTypes(t, out.String()))
	require.NoError(t, a.Complete(ctx))
}

func TestUIStreamAdapter_WriteDataFragment(t *testing.T) {
	out := newSyncBuffer("")
	a := NewUIStreamAdapter(out, func(o *Options) { o.MaxLifetime = 0 })
	ctx := context.Background()

	require.NoError(t, a.WriteDataFragment(ctx, "rows", `[{"a":1},{"a"`))
	require.NoError(t, a.WriteDataFragment(ctx, "rows", `:2}]`))
	require.NoError(t, a.Complete(ctx))

	assert.Equal(t, []string{"start", "data-rows", "data-rows", "finish", "[DONE]"}, uiFrameTypes(t, out.String()))
	assert.Contains(t, out.String(), `"data":{"a":2}`)
}

func TestJSONBuffer_TruncatesAtTopLevelBoundary(t *testing.T) {
	b := &jsonBuffer{limit: 20}
	items, err := b.append(`[{"k":"aaaa"},{"k":"bbbb"},{"k":"cc`)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, `[{"k":"cc`, string(b.buf))
	assert.Equal(t, 0, b.sent)

	items, err = b.append(`"}]`)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"k": "cc"}}, items)
}

func TestJSONBuffer_DropsWithoutSafeCut(t *testing.T) {
	b := &jsonBuffer{limit: 8}
	_, _ = b.append(`[{"k":"aaaaaaaaaa`)
	assert.Nil(t, b.buf)
	assert.Equal(t, 0, b.sent)
}

func TestLastTopLevelBoundary_TracksStrings(t *testing.T) {
	cut, items := lastTopLevelBoundary([]byte(`[{"s":"a,]\",x"},{"b":[1,2]},{"c"`))
	require.Equal(t, 2, items)
	assert.Equal(t, byte(','), `[{"s":"a,]\",x"},{"b":[1,2]},{"c"`[cut])
	assert.Equal(t, `{"c"`, `[{"s":"a,]\",x"},{"b":[1,2]},{"c"`[cut+1:])

	cut, _ = lastTopLevelBoundary([]byte(`{"a":1,"b":2}`))
	assert.Equal(t, -1, cut)
}

func TestBufferingAdapter(t *testing.T) {
	a := NewBufferingAdapter()
	ctx := context.Background()

	require.NoError(t, Emit(ctx, a, core.TextUnit{Text: "Hello "}, time.Second))
	require.NoError(t, Emit(ctx, a, core.TextUnit{Text: "world"}, 0))
	require.NoError(t, Emit(ctx, a, core.DataUnit{Kind: "chart", ID: "c1", Payload: map[string]any{"x": 1}}, 0))
	require.NoError(t, EmitSignal(ctx, a, core.NewOperation(core.OperationCompleted, nil)))
	require.NoError(t, a.Complete(ctx))
	require.NoError(t, a.Complete(ctx))

	assert.Equal(t, "Hello world", a.Text())
	assert.Equal(t, []core.Unit{
		core.TextUnit{Text: "Hello world"},
		core.DataUnit{Kind: "chart", ID: "c1", Payload: map[string]any{"x": 1, "id": "c1"}},
	}, a.Units())
	assert.Len(t, a.Operations(), 1)
	assert.ErrorIs(t, a.WriteRole(ctx, core.RoleAssistant), ErrCompleted)
}

type bogusUnit struct{ core.Unit }

func TestEmit_RejectsUnknownUnit(t *testing.T) {
	err := Emit(context.Background(), NewBufferingAdapter(), bogusUnit{}, 0)
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := NewBufferingAdapter()

	require.NoError(t, r.Register("req-1", a))
	err := r.Register("req-1", NewBufferingAdapter())
	assert.True(t, errors.Is(err, ErrAlreadyRegistered))

	require.NoError(t, r.WriteSummary(context.Background(), "req-1", core.NewSummary("status", "x")))
	assert.Len(t, a.Summaries(), 1)

	r.Unregister("req-1")
	r.Unregister("req-1")
	_, err = r.Get("req-1")
	assert.ErrorIs(t, err, ErrAdapterNotFound)
	assert.Equal(t, 0, r.Len())
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"Hello  ", "big\n", "world"}, splitWords("Hello  big\nworld"))
	assert.Nil(t, splitWords(""))
}

func TestWatchdog_StopPreventsExpiry(t *testing.T) {
	fired := make(chan struct{}, 1)
	w := NewWatchdog(10*time.Millisecond, func() { fired <- struct{}{} })
	assert.True(t, w.Stop())
	assert.False(t, w.Stop())

	select {
	case <-fired:
		t.Fatal("stopped watchdog fired")
	case <-time.After(30 * time.Millisecond):
	}
	assert.False(t, w.Fired())
}
