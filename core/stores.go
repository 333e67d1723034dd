package core

import "context"

// TaskStore persists Task records.
//
// CreateTask must fail with an error wrapping ErrDuplicate when a task with
// the same id already exists so callers can recover by fetching the row.
type TaskStore interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTask(ctx context.Context, id string, update TaskUpdate) error
}

// MessageStore persists conversation messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg MessageRecord) error
	ListMessages(ctx context.Context, conversationID string) ([]MessageRecord, error)
}

// ConversationStore holds the shared active-agent pointer of a conversation.
// Other requests may switch it concurrently; readers always trust the latest
// value. ActiveAgent returns "" when no pointer is set.
type ConversationStore interface {
	ActiveAgent(ctx context.Context, conversationID string) (string, error)
	SetActiveAgent(ctx context.Context, conversationID, agentID string) error
}

// AgentConfig describes how to reach an agent and how its requests report
// progress.
type AgentConfig struct {
	ID            string             `json:"id" yaml:"id"`
	Endpoint      string             `json:"endpoint" yaml:"endpoint"`
	StatusUpdates StatusUpdatePolicy `json:"status_updates" yaml:"status_updates"`
}

// AgentDirectory resolves agent ids to their configuration.
type AgentDirectory interface {
	Lookup(ctx context.Context, agentID string) (AgentConfig, error)
}

// SessionRegistry owns per-request sessions. Sessions are created when an
// execution starts and ended when it returns.
type SessionRegistry interface {
	CreateSession(ctx context.Context, requestID, conversationID string) (*Session, error)
	GetSession(requestID string) (*Session, error)
	EndSession(requestID string) error
	EnableEmitOperations(requestID string) error
	InitializeStatusUpdates(ctx context.Context, requestID string, policy StatusUpdatePolicy) error
}

// ArtifactStore saves opaque blobs (response snapshots) under a key.
type ArtifactStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// OperationPublisher fans operations out to other services.
type OperationPublisher interface {
	PublishOperation(ctx context.Context, requestID string, op OperationEvent) error
}
