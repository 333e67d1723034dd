package a2a

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
)

// ModelScheme prefixes endpoints served by a ModelClient: model://<agent id>.
const ModelScheme = "model"

// Agent is an in-process agent backed by a language model.
type Agent struct {
	ID           string
	Model        model.Model
	Instructions string
	// Peers lists the agent ids this agent may hand off to.
	Peers []string
}

// ModelClientOptions configures a ModelClient.
type ModelClientOptions struct {
	// Stream requests partial model output and forwards it to the observer.
	Stream bool
	Logger logging.Logger
}

// ModelClient runs model backed agents in-process. A call to the
// transfer_to_agent tool is reported as a Handoff.
type ModelClient struct {
	mu     sync.RWMutex
	agents map[string]Agent
	opts   ModelClientOptions
}

// NewModelClient creates a client serving the given agents.
func NewModelClient(agents []Agent, optFns ...func(o *ModelClientOptions)) *ModelClient {
	opts := ModelClientOptions{Stream: true, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNop(opts.Logger)

	c := &ModelClient{agents: make(map[string]Agent, len(agents)), opts: opts}
	for _, a := range agents {
		c.Register(a)
	}
	return c
}

// Register adds or replaces an agent.
func (c *ModelClient) Register(a Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[a.ID] = a
}

// Endpoint returns the endpoint addressing agentID.
func Endpoint(agentID string) string { return ModelScheme + "://" + agentID }

// AgentIDs returns the registered agent ids in sorted order.
func (c *ModelClient) AgentIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *ModelClient) agent(endpoint string) (Agent, error) {
	id := strings.TrimPrefix(endpoint, ModelScheme+"://")
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[id]
	if !ok || a.Model == nil {
		return Agent{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return a, nil
}

// SendMessage runs one generation of the addressed agent.
func (c *ModelClient) SendMessage(ctx context.Context, endpoint string, req SendRequest) (Response, error) {
	a, err := c.agent(endpoint)
	if err != nil {
		return nil, err
	}
	obs := req.observer()

	mreq := model.Request{
		Instructions: c.instructions(a, req.Metadata),
		Messages:     []model.Message{{Role: model.RoleUser, Content: req.Message}},
		Stream:       c.opts.Stream,
	}
	if len(a.Peers) > 0 {
		mreq.Tools = []model.ToolDefinition{TransferTool(a.Peers)}
	}

	respCh, errCh := a.Model.Generate(ctx, mreq)

	var (
		final    *model.Response
		streamed strings.Builder
	)
	for resp := range respCh {
		if resp.Partial {
			if resp.Message.Content == "" {
				continue
			}
			streamed.WriteString(resp.Message.Content)
			if err := obs.OnTextDelta(ctx, resp.Message.Content); err != nil {
				return nil, err
			}
			continue
		}
		r := resp
		final = &r
	}
	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.ID, err)
	}
	if final == nil {
		return NoResponse{Reason: "model returned no final response"}, nil
	}

	for _, tc := range final.Message.ToolCalls {
		if tc.Function.Name != TransferToolName {
			continue
		}
		h, err := ParseTransfer(tc)
		if err != nil {
			c.opts.Logger.Warn("Malformed transfer call", "agent_id", a.ID, "error", err)
			return Handoff{}, nil
		}
		return h, nil
	}

	text := final.Message.Content
	if text == "" {
		text = streamed.String()
	}
	if strings.TrimSpace(text) == "" {
		return NoResponse{Reason: "empty model response"}, nil
	}
	return Terminal{Text: text}, nil
}

// instructions builds the system prompt. Agent instructions may reference
// request metadata as a template, e.g. {{.conversation_id}}.
func (c *ModelClient) instructions(a Agent, meta map[string]string) string {
	var b strings.Builder
	if a.Instructions != "" {
		text, err := util.RenderTemplate(a.Instructions, meta)
		if err != nil {
			c.opts.Logger.Warn("Rendering instructions failed, using them verbatim", "agent_id", a.ID, "error", err)
			text = a.Instructions
		}
		b.WriteString(text)
	} else {
		fmt.Fprintf(&b, "You are %s, a helpful AI assistant.", a.ID)
	}
	if len(a.Peers) > 0 {
		fmt.Fprintf(&b, "\n\nYou can transfer the conversation with the %s tool to one of: %s.",
			TransferToolName, strings.Join(a.Peers, ", "))
	}
	if prev := meta[MetaPreviousAgentID]; prev != "" {
		fmt.Fprintf(&b, "\n\nYou are taking over from %s.", prev)
		if reason := meta[MetaHandoffReason]; reason != "" {
			fmt.Fprintf(&b, " Reason: %s", reason)
		}
	}
	return b.String()
}
