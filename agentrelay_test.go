package agentrelay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/a2a"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/evaluation"
	"github.com/hupe1980/agentrelay/model"
)

func TestRelay_ModelAgentsHandOff(t *testing.T) {
	triage := model.NewMockModel("triage", "mock")
	triage.AddToolCall("invoice", a2a.TransferToolName, map[string]any{
		"agent":  "billing",
		"reason": "invoice question",
	})
	billing := model.NewMockModel("billing", "mock")
	billing.AddResponse("invoice", "Your invoice is paid.")

	var evaluated atomic.Int32
	r := New(func(o *Options) {
		o.Evaluator = evaluation.EvaluatorFunc(func(context.Context, evaluation.Invocation) (*evaluation.Result, error) {
			evaluated.Add(1)
			return &evaluation.Result{}, nil
		})
	})
	r.RegisterAgent(a2a.Agent{ID: "triage", Model: triage, Peers: []string{"billing"}}, core.StatusUpdatePolicy{})
	r.RegisterAgent(a2a.Agent{ID: "billing", Model: billing}, core.StatusUpdatePolicy{})

	result, out := r.ExecuteSync(context.Background(), core.ExecutionRequest{
		ConversationID: "conv-1",
		UserMessage:    "Is my invoice paid?",
		InitialAgentID: "triage",
		RequestID:      "req-1",
	})
	r.Wait()

	require.True(t, result.Success, result.Error)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, "billing", result.Response.AgentID)
	assert.Equal(t, "Your invoice is paid.", out.Text())
	assert.Equal(t, int32(1), evaluated.Load())

	active, err := r.Stores().Conversations.ActiveAgent(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "billing", active)
}

func TestRelay_RemoteAgent(t *testing.T) {
	remote := model.NewMockModel("remote", "mock")
	remote.AddResponse("hello", "Hi from the remote side.")
	agents := a2a.NewModelClient([]a2a.Agent{{ID: "remote", Model: remote}})
	ts := httptest.NewServer(a2a.NewHandler(agents, func(r *http.Request) string {
		return a2a.Endpoint(path.Base(r.URL.Path))
	}, nil))
	defer ts.Close()

	r := New()
	r.RegisterRemoteAgent(core.AgentConfig{ID: "remote", Endpoint: ts.URL + "/agents/remote"})

	result, out := r.ExecuteSync(context.Background(), core.ExecutionRequest{
		ConversationID: "conv-2",
		UserMessage:    "hello",
		InitialAgentID: "remote",
		RequestID:      "req-2",
	})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "Hi from the remote side.", out.Text())
}

func TestRelay_UnknownAgentFails(t *testing.T) {
	r := New(func(o *Options) { o.MaxErrors = 1 })

	result, out := r.ExecuteSync(context.Background(), core.ExecutionRequest{
		ConversationID: "conv-3",
		UserMessage:    "hello",
		InitialAgentID: "ghost",
		RequestID:      "req-3",
	})

	assert.False(t, result.Success)
	assert.Equal(t, "Maximum error limit (1) reached", result.Error)
	assert.True(t, out.Completed())
}

func TestRelay_CancelUnknown(t *testing.T) {
	assert.ErrorIs(t, New().Cancel("nope"), core.ErrNotFound)
}
