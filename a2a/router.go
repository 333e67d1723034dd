package a2a

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Router dispatches SendMessage by endpoint scheme ("http", "https",
// "model", ...).
type Router struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{clients: make(map[string]Client)}
}

// Handle routes endpoints with the given scheme to c.
func (r *Router) Handle(scheme string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[strings.ToLower(scheme)] = c
}

// SendMessage implements Client.
func (r *Router) SendMessage(ctx context.Context, endpoint string, req SendRequest) (Response, error) {
	scheme, _, ok := strings.Cut(endpoint, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoClient, endpoint)
	}
	r.mu.RLock()
	c, found := r.clients[strings.ToLower(scheme)]
	r.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrNoClient, endpoint)
	}
	return c.SendMessage(ctx, endpoint, req)
}
