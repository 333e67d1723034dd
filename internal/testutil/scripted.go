package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/agentrelay/a2a"
	"github.com/hupe1980/agentrelay/parser"
)

// Step is one scripted agent turn. Text chunks and deltas are delivered to
// the observer in order before the response is returned.
type Step struct {
	Text     []string
	Deltas   []parser.ObjectDelta
	Response a2a.Response
	Err      error
	// Block waits for the context to be cancelled and returns its error.
	Block bool
	// Panic panics with the given value instead of answering.
	Panic any
}

// Call records one SendMessage invocation.
type Call struct {
	Endpoint string
	Message  string
	Metadata map[string]string
}

// ScriptedClient is an a2a.Client that answers from per-endpoint scripts.
// Example:
//
//	c := NewScriptedClient().
//		On("model://a", Handoff("b", "needs specialist")).
//		On("model://b", Terminal("Done."))
type ScriptedClient struct {
	mu       sync.Mutex
	steps    map[string][]Step
	fallback map[string]Step
	calls    []Call
	started  chan struct{}
}

var _ a2a.Client = (*ScriptedClient)(nil)

// NewScriptedClient creates an empty script. Unscripted calls answer with
// NoResponse.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{
		steps:    map[string][]Step{},
		fallback: map[string]Step{},
		started:  make(chan struct{}, 64),
	}
}

// On appends steps for endpoint (chainable).
func (c *ScriptedClient) On(endpoint string, steps ...Step) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps[endpoint] = append(c.steps[endpoint], steps...)
	return c
}

// Always answers every call to endpoint with step once its queue is empty (chainable).
func (c *ScriptedClient) Always(endpoint string, step Step) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback[endpoint] = step
	return c
}

// Calls returns the recorded calls in order.
func (c *ScriptedClient) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Started receives one value per SendMessage call, after it was recorded.
func (c *ScriptedClient) Started() <-chan struct{} { return c.started }

func (c *ScriptedClient) next(endpoint string, req a2a.SendRequest) Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	c.calls = append(c.calls, Call{Endpoint: endpoint, Message: req.Message, Metadata: meta})
	if q := c.steps[endpoint]; len(q) > 0 {
		c.steps[endpoint] = q[1:]
		return q[0]
	}
	if s, ok := c.fallback[endpoint]; ok {
		return s
	}
	return NoResponse("script exhausted")
}

// SendMessage implements a2a.Client.
func (c *ScriptedClient) SendMessage(ctx context.Context, endpoint string, req a2a.SendRequest) (a2a.Response, error) {
	step := c.next(endpoint, req)
	select {
	case c.started <- struct{}{}:
	default:
	}
	if step.Panic != nil {
		panic(step.Panic)
	}
	obs := req.Observer
	if obs == nil {
		obs = a2a.NopObserver{}
	}
	for _, t := range step.Text {
		obs.OnTextDelta(ctx, t)
	}
	for _, d := range step.Deltas {
		obs.OnObjectDelta(ctx, d)
	}
	if step.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Terminal scripts a final answer. Chunks, when given, are streamed first.
func Terminal(text string, chunks ...string) Step {
	return Step{Text: chunks, Response: a2a.Terminal{Text: text}}
}

// Handoff scripts a transfer to target.
func Handoff(target, reason string) Step {
	return Step{Response: a2a.Handoff{TargetAgentID: target, Reason: reason}}
}

// NoResponse scripts an unusable answer.
func NoResponse(reason string) Step {
	return Step{Response: a2a.NoResponse{Reason: reason}}
}
