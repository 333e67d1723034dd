package a2a

import (
	"context"
	"errors"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/parser"
)

// Routing metadata keys attached to every agent call.
const (
	MetaConversationID  = "conversation_id"
	MetaRequestID       = "request_id"
	MetaTaskID          = "task_id"
	MetaIteration       = "iteration"
	MetaPreviousAgentID = "previous_agent_id"
	MetaHandoffReason   = "handoff_reason"
)

var (
	// ErrUnknownAgent is returned when an endpoint names no registered agent.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrNoClient is returned by Router for endpoints with an unhandled scheme.
	ErrNoClient = errors.New("no client for endpoint scheme")
)

// Response is the classified outcome of one agent round trip. Concrete
// responses implement the unexported isResponse marker enabling a closed set.
type Response interface{ isResponse() }

// NoResponse means the agent produced nothing usable. It is retryable.
type NoResponse struct {
	Reason string
}

func (NoResponse) isResponse() {}

// Handoff asks the orchestrator to continue the turn with another agent.
// An empty TargetAgentID marks a malformed hand-off.
type Handoff struct {
	TargetAgentID string
	Reason        string
}

func (Handoff) isResponse() {}

// Terminal is a final answer. Artifacts carry structured units returned
// outside the streamed content.
type Terminal struct {
	Text      string
	Artifacts []core.Unit
}

func (Terminal) isResponse() {}

// Observer receives streamed content while a round trip is in flight.
type Observer interface {
	OnTextDelta(ctx context.Context, text string) error
	OnObjectDelta(ctx context.Context, delta parser.ObjectDelta) error
	// OnToolResult marks that a tool result was produced since the last text.
	OnToolResult(ctx context.Context) error
}

// NopObserver discards every callback.
type NopObserver struct{}

func (NopObserver) OnTextDelta(context.Context, string) error              { return nil }
func (NopObserver) OnObjectDelta(context.Context, parser.ObjectDelta) error { return nil }
func (NopObserver) OnToolResult(context.Context) error                     { return nil }

// SendRequest is one turn sent to an agent.
type SendRequest struct {
	Message  string
	Metadata map[string]string
	// Observer is optional.
	Observer Observer
}

func (r SendRequest) observer() Observer {
	if r.Observer == nil {
		return NopObserver{}
	}
	return r.Observer
}

// Client sends a turn to the agent at endpoint. A returned error is a
// transport failure; callers treat it like NoResponse.
type Client interface {
	SendMessage(ctx context.Context, endpoint string, req SendRequest) (Response, error)
}
