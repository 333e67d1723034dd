package core

// DefaultMaxTransfers bounds the execution loop when a request leaves
// MaxTransfers unset.
const DefaultMaxTransfers = 10

// ExecutionRequest describes one orchestration attempt. It is created by the
// caller and never mutated by the orchestrator.
type ExecutionRequest struct {
	ConversationID string            `json:"conversation_id"`
	UserMessage    string            `json:"user_message"`
	InitialAgentID string            `json:"initial_agent_id"`
	RequestID      string            `json:"request_id"`
	MaxTransfers   int               `json:"max_transfers,omitempty"`
	EmitOperations bool              `json:"emit_operations,omitempty"`
	BatchRun       bool              `json:"batch_run,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// TransferLimit returns MaxTransfers or DefaultMaxTransfers when unset.
func (r ExecutionRequest) TransferLimit() int {
	if r.MaxTransfers <= 0 {
		return DefaultMaxTransfers
	}
	return r.MaxTransfers
}

// ResponseSnapshot is the terminal answer captured for a completed task.
type ResponseSnapshot struct {
	AgentID string        `json:"agent_id"`
	Text    string        `json:"text"`
	Parts   []MessagePart `json:"parts"`
}

// ExecutionResult is the structured outcome of an execution. Failures are
// reported here; the orchestrator never returns an error or panics.
type ExecutionResult struct {
	Success    bool              `json:"success"`
	Iterations int               `json:"iterations"`
	Error      string            `json:"error,omitempty"`
	Response   *ResponseSnapshot `json:"response,omitempty"`
	TaskID     string            `json:"task_id,omitempty"`
}
