package orchestrator

import (
	"context"

	"github.com/hupe1980/agentrelay/a2a"
	"github.com/hupe1980/agentrelay/parser"
)

// parserObserver feeds streamed agent output into the request's parser.
type parserObserver struct {
	p *parser.IncrementalParser
}

var _ a2a.Observer = parserObserver{}

func (o parserObserver) OnTextDelta(ctx context.Context, text string) error {
	return o.p.ProcessTextChunk(ctx, text)
}

func (o parserObserver) OnObjectDelta(ctx context.Context, delta parser.ObjectDelta) error {
	return o.p.ProcessObjectDelta(ctx, delta)
}

func (o parserObserver) OnToolResult(context.Context) error {
	o.p.MarkPriorToolResult()
	return nil
}
