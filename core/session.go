package core

import (
	"sync"
	"time"
)

// StatusUpdatePolicy configures periodic status summaries for a request. It
// is derived from agent configuration.
type StatusUpdatePolicy struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	Messages []string      `json:"messages,omitempty" yaml:"messages"`
}

// Session is the per-request bookkeeping container. It lives exactly as long
// as one execution and is safe for concurrent access.
//
// Contract:
//   - ID equals the request id
//   - the artifact cache returns copies of cached payload maps
//   - Clone performs deep copies of maps for safe divergence.
type Session struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversation_id"`
	EmitOperations bool               `json:"emit_operations"`
	StatusUpdates  StatusUpdatePolicy `json:"status_updates"`
	Created        time.Time          `json:"created"`
	Ended          *time.Time         `json:"ended,omitempty"`
	artifacts      map[string]DataUnit
	mu             sync.RWMutex
}

// NewSession creates a session for the given request.
func NewSession(requestID, conversationID string) *Session {
	return &Session{
		ID:             requestID,
		ConversationID: conversationID,
		Created:        time.Now().UTC(),
		artifacts:      map[string]DataUnit{},
	}
}

// CacheArtifact stores a structured unit under its id. Units without an id
// are ignored.
func (s *Session) CacheArtifact(u DataUnit) {
	if u.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[u.ID] = cloneDataUnit(u)
}

// Artifact returns a cached unit by id.
func (s *Session) Artifact(id string) (DataUnit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.artifacts[id]
	if !ok {
		return DataUnit{}, false
	}
	return cloneDataUnit(u), true
}

// ArtifactCount returns the number of cached artifacts.
func (s *Session) ArtifactCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.artifacts)
}

// SetEmitOperations toggles operation emission for this request.
func (s *Session) SetEmitOperations(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EmitOperations = v
}

// OperationsEnabled reports whether operations are emitted to the client.
func (s *Session) OperationsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.EmitOperations
}

// SetStatusUpdates stores the status update policy.
func (s *Session) SetStatusUpdates(p StatusUpdatePolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StatusUpdates = p
}

// End marks the session as ended. Calling End twice keeps the first timestamp.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Ended == nil {
		now := time.Now().UTC()
		s.Ended = &now
	}
}

// IsEnded reports whether End was called.
func (s *Session) IsEnded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Ended != nil
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:             s.ID,
		ConversationID: s.ConversationID,
		EmitOperations: s.EmitOperations,
		StatusUpdates:  s.StatusUpdates,
		Created:        s.Created,
		artifacts:      make(map[string]DataUnit, len(s.artifacts)),
	}
	if s.Ended != nil {
		ended := *s.Ended
		clone.Ended = &ended
	}
	for k, v := range s.artifacts {
		clone.artifacts[k] = cloneDataUnit(v)
	}
	return clone
}

func cloneDataUnit(u DataUnit) DataUnit {
	if u.Payload == nil {
		return u
	}
	payload := make(map[string]any, len(u.Payload))
	for k, v := range u.Payload {
		payload[k] = v
	}
	u.Payload = payload
	return u
}
