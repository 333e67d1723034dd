package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/stream"
)

// Turn response modes.
const (
	ModeSSE      = "sse"
	ModeUI       = "ui"
	ModeBuffered = "buffered"
)

// TurnRequest is the body of a conversation turn.
type TurnRequest struct {
	// ConversationID is read from the WebSocket message only; HTTP turns take
	// it from the path.
	ConversationID string            `json:"conversation_id,omitempty"`
	Message        string            `json:"message" binding:"required"`
	AgentID        string            `json:"agent_id" binding:"required"`
	RequestID      string            `json:"request_id,omitempty"`
	MaxTransfers   int               `json:"max_transfers,omitempty" binding:"gte=0"`
	EmitOperations bool              `json:"emit_operations,omitempty"`
	BatchRun       bool              `json:"batch_run,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (t TurnRequest) executionRequest(conversationID string) core.ExecutionRequest {
	requestID := t.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return core.ExecutionRequest{
		ConversationID: conversationID,
		UserMessage:    t.Message,
		InitialAgentID: t.AgentID,
		RequestID:      requestID,
		MaxTransfers:   t.MaxTransfers,
		EmitOperations: t.EmitOperations,
		BatchRun:       t.BatchRun,
		Metadata:       t.Metadata,
	}
}

// BufferedResponse is returned by mode=buffered turns.
type BufferedResponse struct {
	RequestID string               `json:"request_id"`
	Result    core.ExecutionResult `json:"result"`
	Role      string               `json:"role,omitempty"`
	Text      string               `json:"text"`
}

func (s *Server) handleTurn(c *gin.Context) {
	var body TurnRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := body.executionRequest(c.Param("id"))
	ctx := c.Request.Context()

	switch mode := c.DefaultQuery("mode", ModeSSE); mode {
	case ModeSSE:
		stream.SetSSEHeaders(c.Writer.Header())
		c.Header("X-Request-Id", req.RequestID)
		c.Status(http.StatusOK)
		s.execute(ctx, req, stream.NewSSEAdapter(c.Writer, s.streamOptions()...))
	case ModeUI:
		stream.SetUIStreamHeaders(c.Writer.Header())
		c.Header("X-Request-Id", req.RequestID)
		c.Status(http.StatusOK)
		s.execute(ctx, req, stream.NewUIStreamAdapter(c.Writer, s.streamOptions()...))
	case ModeBuffered:
		adapter := stream.NewBufferingAdapter()
		result := s.execute(ctx, req, adapter)
		status := http.StatusOK
		if !result.Success {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, BufferedResponse{
			RequestID: req.RequestID,
			Result:    result,
			Role:      adapter.Role(),
			Text:      adapter.Text(),
		})
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unsupported mode " + mode})
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.opts.Logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	w := stream.NewWebSocketWriter(conn)
	defer func() { _ = w.Close() }()

	var body TurnRequest
	if err := conn.ReadJSON(&body); err != nil {
		s.opts.Logger.Debug("Reading WebSocket turn failed", "error", err)
		return
	}
	if body.ConversationID == "" || body.Message == "" || body.AgentID == "" {
		_ = conn.WriteJSON(gin.H{"type": "error", "errorText": "conversation_id, message and agent_id are required"})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// A closed or failed connection cancels the turn.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	s.execute(ctx, body.executionRequest(body.ConversationID), stream.NewUIStreamAdapter(w, s.streamOptions()...))
}

func (s *Server) execute(ctx context.Context, req core.ExecutionRequest, adapter stream.Adapter) core.ExecutionResult {
	result := s.orch.Execute(ctx, req, adapter)
	if !result.Success {
		s.opts.Logger.Info("Turn failed", "request_id", req.RequestID, "error", result.Error)
	}
	return result
}

func (s *Server) streamOptions() []func(o *stream.Options) {
	if s.opts.Stream == nil {
		return nil
	}
	return []func(o *stream.Options){s.opts.Stream}
}
