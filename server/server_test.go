package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/a2a"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/testutil"
	"github.com/hupe1980/agentrelay/metrics"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/orchestrator"
	"github.com/hupe1980/agentrelay/store/memory"
	"github.com/hupe1980/agentrelay/stream"
)

type fixture struct {
	server *Server
	orch   *orchestrator.Orchestrator
	store  *memory.Store
}

func newFixture(t *testing.T, client a2a.Client, optFns ...func(o *Options)) *fixture {
	t.Helper()
	store := memory.New()
	stores := orchestrator.Stores{Tasks: store, Messages: store, Conversations: store}
	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)
	orch := orchestrator.New(client, stores, func(o *orchestrator.Options) {
		o.Metrics = m
	})
	optFns = append([]func(o *Options){func(o *Options) {
		o.Gatherer = reg
		o.Stream = func(so *stream.Options) { so.MaxLifetime = time.Minute }
	}}, optFns...)
	return &fixture{server: New(orch, stores, optFns...), orch: orch, store: store}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

const turnBody = `{"message":"Where is my order?","agent_id":"a","request_id":"req-1"}`

func TestTurn_Buffered(t *testing.T) {
	client := testutil.NewScriptedClient().On("model://a", testutil.Terminal("It ships today."))
	f := newFixture(t, client)

	rec := f.do(http.MethodPost, "/v1/conversations/conv-1/turns?mode=buffered", turnBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BufferedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-1", resp.RequestID)
	assert.True(t, resp.Result.Success)
	assert.Equal(t, "It ships today.", resp.Text)
	assert.Equal(t, core.TaskID("conv-1", "req-1"), resp.Result.TaskID)

	rec = f.do(http.MethodGet, "/v1/tasks/"+resp.Result.TaskID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var task core.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, core.TaskStatusCompleted, task.Status)

	rec = f.do(http.MethodGet, "/v1/conversations/conv-1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Messages []core.MessageRecord `json:"messages"`
		Total    int                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Equal(t, 2, history.Total)
	assert.Equal(t, core.RoleUser, history.Messages[0].Role)
	assert.Equal(t, "It ships today.", history.Messages[1].Content)
}

func TestTurn_BufferedFailure(t *testing.T) {
	client := testutil.NewScriptedClient().Always("model://a", testutil.NoResponse("busy"))
	f := newFixture(t, client)

	rec := f.do(http.MethodPost, "/v1/conversations/conv-1/turns?mode=buffered", turnBody)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp BufferedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Result.Success)
	assert.Equal(t, "Maximum error limit (3) reached", resp.Result.Error)
}

func TestTurn_SSE(t *testing.T) {
	client := testutil.NewScriptedClient().On("model://a", testutil.Terminal("Hello."))
	f := newFixture(t, client)

	rec := f.do(http.MethodPost, "/v1/conversations/conv-1/turns", turnBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))

	body := rec.Body.String()
	role := strings.Index(body, "event:role")
	text := strings.Index(body, "event:text")
	done := strings.Index(body, "event:done")
	require.True(t, role >= 0 && text > role && done > text, body)
}

func TestTurn_UIStream(t *testing.T) {
	client := testutil.NewScriptedClient().On("model://a", testutil.Terminal("Hello."))
	f := newFixture(t, client)

	rec := f.do(http.MethodPost, "/v1/conversations/conv-1/turns?mode=ui", turnBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", rec.Header().Get("X-Vercel-AI-UI-Message-Stream"))

	body := rec.Body.String()
	assert.Contains(t, body, `"type":"start"`)
	assert.Contains(t, body, `"type":"text-delta"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"), body)
}

func TestTurn_Validation(t *testing.T) {
	f := newFixture(t, testutil.NewScriptedClient())

	tests := []struct {
		name   string
		target string
		body   string
	}{
		{"missing agent", "/v1/conversations/conv-1/turns", `{"message":"hi"}`},
		{"missing message", "/v1/conversations/conv-1/turns", `{"agent_id":"a"}`},
		{"malformed body", "/v1/conversations/conv-1/turns", `{`},
		{"negative transfers", "/v1/conversations/conv-1/turns", `{"message":"hi","agent_id":"a","max_transfers":-1}`},
		{"unknown mode", "/v1/conversations/conv-1/turns?mode=xml", turnBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCancel(t *testing.T) {
	client := testutil.NewScriptedClient().On("model://a", testutil.Step{Block: true})
	f := newFixture(t, client)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- f.do(http.MethodPost, "/v1/conversations/conv-1/turns?mode=buffered", turnBody)
	}()

	select {
	case <-client.Started():
	case <-time.After(5 * time.Second):
		t.Fatalf("agent call did not start")
	}

	rec := f.do(http.MethodDelete, "/v1/requests/req-1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case rec = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("turn did not finish after cancel")
	}
	var resp BufferedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Execution cancelled", resp.Result.Error)
}

func TestNotFound(t *testing.T) {
	f := newFixture(t, testutil.NewScriptedClient())

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/v1/requests/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/tasks/nope", "").Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, testutil.NewScriptedClient(), func(o *Options) {
		o.Checks = map[string]HealthCheck{
			"store": func(context.Context) error { return nil },
		}
	})
	rec := f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	f = newFixture(t, testutil.NewScriptedClient(), func(o *Options) {
		o.Checks = map[string]HealthCheck{
			"store": func(context.Context) error { return errors.New("connection refused") },
		}
	})
	rec = f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetrics(t *testing.T) {
	client := testutil.NewScriptedClient().On("model://a", testutil.Terminal("Hello."))
	f := newFixture(t, client)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/conversations/conv-1/turns?mode=buffered", turnBody).Code)

	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `agentrelay_orchestrator_executions_total{outcome="success"} 1`)
}

func TestWebSocketTurn(t *testing.T) {
	client := testutil.NewScriptedClient().On("model://a", testutil.Terminal("Hello there."))
	f := newFixture(t, client)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(TurnRequest{
		ConversationID: "conv-ws",
		Message:        "Hi",
		AgentID:        "a",
	}))

	var frames []string
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		frames = append(frames, string(msg))
		if string(msg) == "[DONE]" {
			break
		}
	}
	require.NotEmpty(t, frames)
	assert.Contains(t, frames[0], `"type":"start"`)
	assert.Equal(t, "[DONE]", frames[len(frames)-1])
}

func TestA2AEndpoint(t *testing.T) {
	helper := model.NewMockModel("mock", "mock")
	helper.AddResponse("ping", "pong")
	agents := a2a.NewModelClient([]a2a.Agent{{ID: "helper", Model: helper}})

	f := newFixture(t, testutil.NewScriptedClient(), func(o *Options) {
		o.Agents = agents
		o.A2APath = "/a2a"
	})

	rec := f.do(http.MethodPost, "/a2a/helper", `{"message":"ping"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	assert.Equal(t, a2a.FrameFinal, last["type"])
	assert.Equal(t, "pong", last["text"])
}
