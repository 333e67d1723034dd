package a2a

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/agentrelay/logging"
)

// DefaultHTTPTimeout bounds one agent round trip over HTTP.
const DefaultHTTPTimeout = 2 * time.Minute

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	Client  *http.Client
	Headers map[string]string
	Logger  logging.Logger
}

// HTTPClient calls agents that speak JSON over HTTP. Responses are streams of
// newline delimited frames; a plain JSON body with a single frame works too.
type HTTPClient struct {
	opts HTTPOptions
}

// NewHTTPClient creates an HTTP agent client.
func NewHTTPClient(optFns ...func(o *HTTPOptions)) *HTTPClient {
	opts := HTTPOptions{
		Client: &http.Client{Timeout: DefaultHTTPTimeout},
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNop(opts.Logger)
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &HTTPClient{opts: opts}
}

// SendMessage POSTs the turn to endpoint and consumes the frame stream.
func (c *HTTPClient) SendMessage(ctx context.Context, endpoint string, req SendRequest) (Response, error) {
	payload, err := json.Marshal(wireRequest{Message: req.Message, Metadata: req.Metadata})
	if err != nil {
		return nil, fmt.Errorf("encode agent request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	for k, v := range c.opts.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.opts.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("agent request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return c.readFrames(ctx, resp.Body, req.observer())
}

func (c *HTTPClient) readFrames(ctx context.Context, body io.Reader, obs Observer) (Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var text strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var f frame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			return nil, fmt.Errorf("decode agent frame: %w", err)
		}

		switch f.Type {
		case FrameText:
			if f.Text == "" {
				continue
			}
			text.WriteString(f.Text)
			if err := obs.OnTextDelta(ctx, f.Text); err != nil {
				return nil, err
			}
		case FrameObject:
			delta, err := f.objectDelta()
			if err != nil {
				c.opts.Logger.Warn("Dropping undecodable object delta", "error", err)
				continue
			}
			if err := obs.OnObjectDelta(ctx, delta); err != nil {
				return nil, err
			}
		case FrameToolResult:
			if err := obs.OnToolResult(ctx); err != nil {
				return nil, err
			}
		case FrameHandoff:
			return Handoff{TargetAgentID: strings.TrimSpace(f.Agent), Reason: f.Reason}, nil
		case FrameFinal:
			final := f.Text
			if final == "" {
				final = text.String()
			}
			artifacts := unitsFromParts(f.Artifacts)
			if final == "" && len(artifacts) == 0 {
				return NoResponse{Reason: "empty final frame"}, nil
			}
			return Terminal{Text: final, Artifacts: artifacts}, nil
		case FrameNoResponse:
			return NoResponse{Reason: f.Reason}, nil
		default:
			c.opts.Logger.Debug("Ignoring unknown agent frame", "type", f.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read agent stream: %w", err)
	}
	return NoResponse{Reason: "stream ended without a result"}, nil
}
