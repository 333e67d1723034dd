package core

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task metadata keys written by the orchestrator.
const (
	MetaInitialAgentID = "initial_agent_id"
	MetaFinalAgentID   = "final_agent_id"
	MetaAgentIDs       = "agent_ids"
	MetaStartedAt      = "started_at"
	MetaCompletedAt    = "completed_at"
	MetaFailedAt       = "failed_at"
	MetaIterations     = "iterations"
	MetaResponse       = "response"
	MetaError          = "error"
)

// taskNamespace scopes name-based task ids.
var taskNamespace = uuid.MustParse("6f1c2b7e-4d0a-5b7c-9a61-3e2f8d4c1a90")

// TaskID derives the deterministic task id for a conversation turn. The same
// (conversationID, requestID) pair always yields the same id.
func TaskID(conversationID, requestID string) string {
	return uuid.NewSHA1(taskNamespace, []byte(conversationID+"\x00"+requestID)).String()
}

// Task is the persisted unit of work for one conversation turn.
type Task struct {
	ID             string         `json:"id" bson:"_id"`
	ConversationID string         `json:"conversation_id" bson:"conversation_id"`
	RequestID      string         `json:"request_id" bson:"request_id"`
	Status         TaskStatus     `json:"status" bson:"status"`
	Metadata       map[string]any `json:"metadata" bson:"metadata"`
	CreatedAt      time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" bson:"updated_at"`
}

// NewTask creates a pending task for the request.
func NewTask(req ExecutionRequest) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:             TaskID(req.ConversationID, req.RequestID),
		ConversationID: req.ConversationID,
		RequestID:      req.RequestID,
		Status:         TaskStatusPending,
		Metadata: map[string]any{
			MetaInitialAgentID: req.InitialAgentID,
			MetaStartedAt:      now.Format(time.RFC3339Nano),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a copy safe for independent mutation. Metadata values are
// copied shallowly.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Metadata = make(map[string]any, len(t.Metadata))
	for k, v := range t.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// TaskUpdate describes a status transition plus metadata to merge.
type TaskUpdate struct {
	Status   TaskStatus
	Metadata map[string]any
}

// Apply merges the update into the task and bumps UpdatedAt.
func (u TaskUpdate) Apply(t *Task) {
	if u.Status != "" {
		t.Status = u.Status
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	for k, v := range u.Metadata {
		t.Metadata[k] = v
	}
	t.UpdatedAt = time.Now().UTC()
}
