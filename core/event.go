package core

import (
	"time"

	"github.com/google/uuid"
)

// Signal is an out-of-band protocol event ordered relative to streamed text
// by the stream adapters. Concrete signal types implement the unexported
// isSignal marker enabling a closed set.
type Signal interface{ isSignal() }

// OperationKind classifies an OperationEvent.
type OperationKind string

const (
	// OperationInitializing is emitted once before the first agent call.
	OperationInitializing OperationKind = "initializing"
	// OperationAgentCall is emitted before each agent round trip.
	OperationAgentCall OperationKind = "agent_call"
	// OperationHandoff is emitted when control moves to another agent.
	OperationHandoff OperationKind = "handoff"
	// OperationCompleted is emitted after a terminal answer was persisted.
	OperationCompleted OperationKind = "completed"
	// OperationError is emitted on every fatal path before cleanup.
	OperationError OperationKind = "error"
)

// OperationEvent reports orchestration progress to the client.
// After emission it should be treated as immutable.
type OperationEvent struct {
	ID        string         `json:"id"`
	Kind      OperationKind  `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// isSignal implements the Signal interface for OperationEvent.
func (OperationEvent) isSignal() {}

// SummaryEvent carries a human readable status line (progress summaries,
// periodic status updates).
type SummaryEvent struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Text      string         `json:"text"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// isSignal implements the Signal interface for SummaryEvent.
func (SummaryEvent) isSignal() {}

// NewOperation creates an operation event with a fresh id and UTC timestamp.
func NewOperation(kind OperationKind, payload map[string]any) OperationEvent {
	return OperationEvent{
		ID:        NewID(),
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewSummary creates a summary event with a fresh id and UTC timestamp.
func NewSummary(kind, text string) SummaryEvent {
	return SummaryEvent{
		ID:        NewID(),
		Kind:      kind,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// NewID generates a new random identifier.
func NewID() string { return uuid.NewString() }
