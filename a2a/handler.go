package a2a

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/parser"
)

// EndpointFunc maps an incoming HTTP request to the endpoint passed to the
// wrapped Client.
type EndpointFunc func(r *http.Request) string

// NewHandler serves c over the newline delimited JSON protocol read by
// HTTPClient. Streamed content is flushed frame by frame.
func NewHandler(c Client, endpoint EndpointFunc, logger logging.Logger) http.Handler {
	logger = logging.OrNop(logger)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		fw := &frameWriter{w: w, enc: json.NewEncoder(w)}
		fw.flusher, _ = w.(http.Flusher)

		resp, err := c.SendMessage(r.Context(), endpoint(r), SendRequest{
			Message:  req.Message,
			Metadata: req.Metadata,
			Observer: fw,
		})
		if err != nil {
			logger.Warn("Agent call failed", "error", err)
			resp = NoResponse{Reason: err.Error()}
		}
		if err := fw.write(responseFrame(resp)); err != nil {
			logger.Debug("Writing final frame failed", "error", err)
		}
	})
}

// frameWriter is the Observer used by NewHandler.
type frameWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	enc     *json.Encoder
	flusher http.Flusher
}

func (fw *frameWriter) write(f frame) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.enc.Encode(f); err != nil {
		return err
	}
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
	return nil
}

func (fw *frameWriter) OnTextDelta(_ context.Context, text string) error {
	return fw.write(frame{Type: FrameText, Text: text})
}

func (fw *frameWriter) OnObjectDelta(_ context.Context, delta parser.ObjectDelta) error {
	raw, err := json.Marshal(delta)
	if err != nil {
		return err
	}
	return fw.write(frame{Type: FrameObject, Delta: raw})
}

func (fw *frameWriter) OnToolResult(context.Context) error {
	return fw.write(frame{Type: FrameToolResult})
}
