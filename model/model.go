package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles understood by every adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction describes the concrete function target of a tool call.
type ToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // JSON string of arguments
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Message is one provider neutral chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on RoleTool messages
}

// Request captures the normalized model input.
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model.
// Partial chunks carry a text delta in Message.Content; the final chunk
// carries the whole text and every tool call.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Message      Message     `json:"message"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock"
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by model backed agents.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in‑memory Model useful for tests & the CLI demo.
type MockModel struct {
	info      Info
	responses map[string]Message
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]Message),
	}
}

// AddResponse registers a deterministic canned completion for inputs
// containing prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.responses[prompt] = Message{Role: RoleAssistant, Content: response}
}

// AddToolCall registers a canned tool call for inputs containing prompt.
func (m *MockModel) AddToolCall(prompt, name string, args map[string]any) {
	raw, _ := json.Marshal(args)
	m.responses[prompt] = Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{{
			ID:       "call_" + name,
			Type:     "function",
			Function: ToolCallFunction{Name: name, Arguments: raw},
		}},
	}
}

func (m *MockModel) lookup(input string) Message {
	if msg, ok := m.responses[input]; ok {
		return msg
	}
	for prompt, msg := range m.responses {
		if prompt != "" && strings.Contains(input, prompt) {
			return msg
		}
	}
	return Message{Role: RoleAssistant, Content: fmt.Sprintf("Mock response to: %s", input)}
}

// Generate implements Model; emits optional streaming word chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}
		full := m.lookup(req.Messages[len(req.Messages)-1].Content)
		if req.Stream && full.Content != "" {
			for _, w := range strings.SplitAfter(full.Content, " ") {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Message: Message{Role: RoleAssistant, Content: w}}:
				}
			}
		}
		finish := "stop"
		if len(full.ToolCalls) > 0 {
			finish = "tool_calls"
		}
		respCh <- Response{Message: full, FinishReason: finish}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
