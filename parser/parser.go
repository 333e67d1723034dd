// Package parser turns streamed agent output into ordered units.
//
// An IncrementalParser is created per request. Text chunks are released only
// up to the last position that cannot be part of an unfinished marker.
// Structured components are emitted once they are shape complete and stable
// across two consecutive deltas; plain text components stream their suffix
// as it grows.
package parser

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/marker"
	"github.com/hupe1980/agentrelay/stream"
)

const (
	// DefaultMaxTracked bounds snapshot, streamed-id and text progress maps.
	DefaultMaxTracked = 256
	// DefaultMaxUnits bounds the collected and emitted unit logs.
	DefaultMaxUnits = 1000
)

// Options configures an IncrementalParser.
type Options struct {
	// TextDelay paces text units word by word on the adapter.
	TextDelay time.Duration
	Grammar   *marker.Grammar
	Resolver  marker.Resolver
	Logger    logging.Logger
	// MaxTracked bounds the per-component maps.
	MaxTracked int
	// MaxUnits bounds the collected and emitted logs.
	MaxUnits int
}

// IncrementalParser consumes text chunks and object deltas for one request.
// It is safe for concurrent use; calls are serialized.
type IncrementalParser struct {
	adapter stream.Adapter
	opts    Options
	dmp     *diffmatchpatch.DiffMatchPatch

	mu         sync.Mutex
	buffer     string
	components []pending
	snapshots  *lru.Cache[string, string]
	streamed   *lru.Cache[string, struct{}]
	progress   *lru.Cache[string, string]
	paragraph  bool
	collected  []core.Unit
	emitted    []core.Unit
}

// New creates a parser that emits to adapter. A nil adapter only collects.
func New(adapter stream.Adapter, optFns ...func(o *Options)) *IncrementalParser {
	opts := Options{
		Grammar:    marker.Default,
		Resolver:   marker.DefaultResolver{},
		Logger:     logging.NoOpLogger{},
		MaxTracked: DefaultMaxTracked,
		MaxUnits:   DefaultMaxUnits,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxTracked <= 0 {
		opts.MaxTracked = DefaultMaxTracked
	}
	if opts.MaxUnits <= 0 {
		opts.MaxUnits = DefaultMaxUnits
	}
	opts.Logger = logging.OrNop(opts.Logger)

	p := &IncrementalParser{adapter: adapter, opts: opts, dmp: diffmatchpatch.New()}
	p.resetTracking()
	return p
}

func (p *IncrementalParser) resetTracking() {
	// lru.New only fails on a non-positive size, which New rules out.
	p.snapshots, _ = lru.New[string, string](p.opts.MaxTracked)
	p.streamed, _ = lru.New[string, struct{}](p.opts.MaxTracked)
	p.progress, _ = lru.New[string, string](p.opts.MaxTracked)
}

// ProcessTextChunk appends chunk to the pending buffer and emits everything
// up to the safe boundary.
func (p *IncrementalParser) ProcessTextChunk(ctx context.Context, chunk string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffer += chunk
	cut := p.opts.Grammar.FindSafeTextBoundary(p.buffer)
	if cut == 0 {
		return nil
	}
	safe := p.buffer[:cut]
	p.buffer = p.buffer[cut:]
	return p.emitAll(ctx, p.opts.Grammar.Parse(safe, p.opts.Resolver))
}

// ProcessObjectDelta merges a partial structured update and emits whatever
// became ready.
func (p *IncrementalParser) ProcessObjectDelta(ctx context.Context, delta ObjectDelta) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, c := range delta.Components {
		if i >= len(p.components) {
			p.components = append(p.components, pending{})
		}
		p.components[i].merge(c)
	}

	for i := range p.components {
		c := &p.components[i]
		id := c.id()
		if id == "" || c.done || p.streamed.Contains(id) {
			continue
		}
		if c.isText() {
			if err := p.streamTextComponent(ctx, id, c.text()); err != nil {
				return err
			}
			continue
		}
		snap := c.snapshot()
		prev, seen := p.snapshots.Peek(id)
		if c.shapeComplete() && seen && prev == snap {
			if err := p.emitComponent(ctx, c); err != nil {
				return err
			}
			continue
		}
		p.snapshots.Add(id, snap)
	}
	return nil
}

// streamTextComponent sends only the part of text not sent before. A rewrite
// of already sent text is not replayed: the client keeps its copy and only
// the tail beyond the sent length is streamed.
func (p *IncrementalParser) streamTextComponent(ctx context.Context, id, text string) error {
	sent, _ := p.progress.Peek(id)
	sentLen := len([]rune(sent))
	textRunes := []rune(text)

	start := p.dmp.DiffCommonPrefix(sent, text)
	if start < sentLen {
		p.opts.Logger.Debug("Text component rewrote sent text", "component_id", id, "sent", sentLen, "common", start)
		start = sentLen
	}
	if start >= len(textRunes) {
		return nil
	}
	p.progress.Add(id, text)
	return p.emit(ctx, core.TextUnit{Text: string(textRunes[start:])})
}

func (p *IncrementalParser) emitComponent(ctx context.Context, c *pending) error {
	id := c.id()
	c.done = true
	p.streamed.Add(id, struct{}{})
	p.snapshots.Remove(id)
	return p.emit(ctx, core.DataUnit{Kind: c.name(), ID: id, Payload: copyProps(c.Props)})
}

// MarkPriorToolResult makes the next text unit start a new paragraph.
func (p *IncrementalParser) MarkPriorToolResult() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paragraph = true
}

// Finalize flushes the remaining buffered text without any trailing marker
// fragment, flushes shape-complete components that never stabilised and
// clears the accumulator state. The collected log is kept until drained.
func (p *IncrementalParser) Finalize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rest := p.opts.Grammar.StripIncomplete(p.buffer)
	p.buffer = ""
	err := p.emitAll(ctx, p.opts.Grammar.Parse(rest, p.opts.Resolver))

	for i := range p.components {
		if err != nil {
			break
		}
		c := &p.components[i]
		if c.done || c.isText() || !c.shapeComplete() || p.streamed.Contains(c.id()) {
			continue
		}
		err = p.emitComponent(ctx, c)
	}

	p.components = nil
	p.paragraph = false
	p.resetTracking()
	return err
}

// GetCollectedUnits returns the units emitted since the last drain.
func (p *IncrementalParser) GetCollectedUnits() []core.Unit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.Unit(nil), p.collected...)
}

// GetAllEmittedUnits returns every unit emitted over the parser's lifetime,
// bounded by MaxUnits.
func (p *IncrementalParser) GetAllEmittedUnits() []core.Unit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.Unit(nil), p.emitted...)
}

// DrainCollectedUnits returns and clears the collected units.
func (p *IncrementalParser) DrainCollectedUnits() []core.Unit {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.collected
	p.collected = nil
	return out
}

func (p *IncrementalParser) emitAll(ctx context.Context, units []core.Unit) error {
	for _, u := range units {
		if err := p.emit(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// emit routes one finished unit to the adapter and records it.
func (p *IncrementalParser) emit(ctx context.Context, u core.Unit) error {
	if t, ok := u.(core.TextUnit); ok {
		if t.Text == "" {
			return nil
		}
		if p.paragraph {
			if !strings.HasPrefix(t.Text, "\n") {
				t.Text = "\n\n" + t.Text
			}
			p.paragraph = false
			u = t
		}
	}
	p.collected = appendBounded(p.collected, u, p.opts.MaxUnits)
	p.emitted = appendBounded(p.emitted, u, p.opts.MaxUnits)
	if p.adapter == nil {
		return nil
	}
	return stream.Emit(ctx, p.adapter, u, p.opts.TextDelay)
}

func appendBounded(log []core.Unit, u core.Unit, limit int) []core.Unit {
	log = append(log, u)
	if over := len(log) - limit; over > 0 {
		log = append(log[:0:0], log[over:]...)
	}
	return log
}
