package model

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Model = (*MockModel)(nil)

func drain(t *testing.T, respCh <-chan Response, errCh <-chan error) []Response {
	t.Helper()
	var out []Response
	for r := range respCh {
		out = append(out, r)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out
}

func TestMockModel_StreamsWordsThenFinal(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("weather", "It is sunny today")

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "what is the weather?"}},
		Stream:   true,
	})
	resps := drain(t, respCh, errCh)
	require.Len(t, resps, 5)

	var b strings.Builder
	for _, r := range resps[:4] {
		assert.True(t, r.Partial)
		b.WriteString(r.Message.Content)
	}
	assert.Equal(t, "It is sunny today", b.String())
	assert.False(t, resps[4].Partial)
	assert.Equal(t, "stop", resps[4].FinishReason)
}

func TestMockModel_ToolCall(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddToolCall("billing", "transfer_to_agent", map[string]any{"agent": "billing"})

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "billing question"}},
	})
	resps := drain(t, respCh, errCh)
	require.Len(t, resps, 1)
	assert.Equal(t, "tool_calls", resps[0].FinishReason)
	require.Len(t, resps[0].Message.ToolCalls, 1)
	assert.Equal(t, "transfer_to_agent", resps[0].Message.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"agent":"billing"}`, string(resps[0].Message.ToolCalls[0].Function.Arguments))
}

func TestMockModel_NoMessages(t *testing.T) {
	m := NewMockModel("mock", "mock")
	respCh, errCh := m.Generate(context.Background(), Request{})
	for range respCh {
	}
	assert.Error(t, <-errCh)
}
