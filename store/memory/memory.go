// Package memory provides in-process implementations of the relay stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// Store keeps tasks, messages and active-agent pointers in maps guarded by
// one RWMutex. Records are copied on the way in and out.
type Store struct {
	mu       sync.RWMutex
	tasks    map[string]*core.Task
	messages map[string][]core.MessageRecord // conversation id -> messages
	active   map[string]string               // conversation id -> agent id
}

// New returns an empty store.
func New() *Store {
	return &Store{
		tasks:    make(map[string]*core.Task),
		messages: make(map[string][]core.MessageRecord),
		active:   make(map[string]string),
	}
}

// CreateTask inserts task or fails with core.ErrDuplicate.
func (s *Store) CreateTask(_ context.Context, task *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s: %w", task.ID, core.ErrDuplicate)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// GetTask returns a copy of the task.
func (s *Store) GetTask(_ context.Context, id string) (*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	return t.Clone(), nil
}

// UpdateTask applies update to the stored task.
func (s *Store) UpdateTask(_ context.Context, id string, update core.TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	update.Apply(t)
	return nil
}

// CreateMessage appends msg to its conversation. A repeated id is ignored.
func (s *Store) CreateMessage(_ context.Context, msg core.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[msg.ConversationID] {
		if m.ID == msg.ID {
			return nil
		}
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

// ListMessages returns the conversation's messages in creation order.
func (s *Store) ListMessages(_ context.Context, conversationID string) ([]core.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.MessageRecord, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ActiveAgent returns the conversation's active agent or "".
func (s *Store) ActiveAgent(_ context.Context, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active[conversationID], nil
}

// SetActiveAgent moves the conversation's active-agent pointer.
func (s *Store) SetActiveAgent(_ context.Context, conversationID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[conversationID] = agentID
	return nil
}
