package stream

import (
	"bytes"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketWriter lets a UIStreamAdapter write to a WebSocket. Each SSE
// style frame becomes one text message carrying the frame payload without
// the "data: " prefix and trailing blank line.
type WebSocketWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketWriter wraps conn.
func NewWebSocketWriter(conn *websocket.Conn) *WebSocketWriter {
	return &WebSocketWriter{conn: conn}
}

// Write implements io.Writer.
func (w *WebSocketWriter) Write(p []byte) (int, error) {
	msg := bytes.TrimSpace(bytes.TrimPrefix(p, []byte("data: ")))
	if len(msg) == 0 {
		return len(p), nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a normal closure and closes the connection.
func (w *WebSocketWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}
