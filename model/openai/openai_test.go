package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/model"
)

var _ model.Model = (*Model)(nil)

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages(model.Request{
		Instructions: "be brief",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{
				ID:       "call_1",
				Type:     "function",
				Function: model.ToolCallFunction{Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`)},
			}}},
			{Role: model.RoleTool, ToolCallID: "call_1", Content: "found"},
		},
	})
	require.Len(t, msgs, 4)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, `{"q":"x"}`, msgs[2].OfAssistant.ToolCalls[0].Function.Arguments)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "call_1", msgs[3].OfTool.ToolCallID)
}

func TestAggCallOrdering(t *testing.T) {
	ac := &aggCall{id: "a", name: "f", args: `{"x":1}`}
	tc := ac.toolCall()
	assert.Equal(t, "f", tc.Function.Name)
	assert.JSONEq(t, `{"x":1}`, string(tc.Function.Arguments))
}
