package core

import (
	"time"

	"github.com/google/uuid"
)

// Message roles persisted by the orchestrator.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessagePart is the persisted form of a Unit.
type MessagePart struct {
	Type string         `json:"type" bson:"type"` // "text" or "data"
	Text string         `json:"text,omitempty" bson:"text,omitempty"`
	Kind string         `json:"kind,omitempty" bson:"kind,omitempty"`
	ID   string         `json:"id,omitempty" bson:"id,omitempty"`
	Data map[string]any `json:"data,omitempty" bson:"data,omitempty"`
}

// MessageRecord is one persisted conversation message.
type MessageRecord struct {
	ID             string         `json:"id" bson:"_id"`
	ConversationID string         `json:"conversation_id" bson:"conversation_id"`
	TaskID         string         `json:"task_id,omitempty" bson:"task_id,omitempty"`
	Role           string         `json:"role" bson:"role"`
	AgentID        string         `json:"agent_id,omitempty" bson:"agent_id,omitempty"`
	Content        string         `json:"content" bson:"content"`
	Parts          []MessagePart  `json:"parts,omitempty" bson:"parts,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at" bson:"created_at"`
}

// NewAssistantMessage builds an assistant message attributed to agentID from
// the given units. Content holds the concatenated text.
func NewAssistantMessage(conversationID, taskID, agentID string, units []Unit) MessageRecord {
	return MessageRecord{
		ID:             NewID(),
		ConversationID: conversationID,
		TaskID:         taskID,
		Role:           RoleAssistant,
		AgentID:        agentID,
		Content:        UnitsText(units),
		Parts:          PartsFromUnits(units),
		CreatedAt:      time.Now().UTC(),
	}
}

// PartsFromUnits converts units to their persisted form, merging adjacent text.
func PartsFromUnits(units []Unit) []MessagePart {
	units = CoalesceUnits(units)
	parts := make([]MessagePart, 0, len(units))
	for _, u := range units {
		switch v := u.(type) {
		case TextUnit:
			parts = append(parts, MessagePart{Type: UnitKindText, Text: v.Text})
		case DataUnit:
			parts = append(parts, MessagePart{Type: UnitKindData, Kind: v.Kind, ID: v.ID, Data: v.Payload})
		}
	}
	return parts
}

// userMessageNamespace scopes deterministic user message ids.
var userMessageNamespace = uuid.MustParse("0b8f4f3e-2a57-5d0e-8c1b-6a4b9e7d2f11")

// NewUserMessage builds the user message of a task. Its id is derived from
// the task id so repeated attempts of the same turn persist it once.
func NewUserMessage(conversationID, taskID, text string) MessageRecord {
	return MessageRecord{
		ID:             uuid.NewSHA1(userMessageNamespace, []byte(taskID)).String(),
		ConversationID: conversationID,
		TaskID:         taskID,
		Role:           RoleUser,
		Content:        text,
		Parts:          []MessagePart{{Type: UnitKindText, Text: text}},
		CreatedAt:      time.Now().UTC(),
	}
}
