package a2a

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// Directory is a static core.AgentDirectory. Agents without an endpoint are
// addressed as model://<id>.
type Directory struct {
	mu       sync.RWMutex
	agents   map[string]core.AgentConfig
	implicit bool
}

// NewDirectory creates a directory from configs.
func NewDirectory(configs ...core.AgentConfig) *Directory {
	d := &Directory{agents: make(map[string]core.AgentConfig, len(configs))}
	for _, c := range configs {
		d.Set(c)
	}
	return d
}

// NewModelDirectory creates a directory that also resolves unknown ids to
// model://<id> with status updates disabled.
func NewModelDirectory(configs ...core.AgentConfig) *Directory {
	d := NewDirectory(configs...)
	d.implicit = true
	return d
}

// Set adds or replaces an agent configuration.
func (d *Directory) Set(c core.AgentConfig) {
	if c.Endpoint == "" {
		c.Endpoint = Endpoint(c.ID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[c.ID] = c
}

// Lookup implements core.AgentDirectory.
func (d *Directory) Lookup(_ context.Context, agentID string) (core.AgentConfig, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.agents[agentID]
	if !ok && d.implicit && agentID != "" {
		return core.AgentConfig{ID: agentID, Endpoint: Endpoint(agentID)}, nil
	}
	if !ok {
		return core.AgentConfig{}, fmt.Errorf("agent %s: %w", agentID, core.ErrNotFound)
	}
	return c, nil
}
