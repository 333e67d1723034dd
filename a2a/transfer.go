package a2a

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hupe1980/agentrelay/model"
)

// TransferToolName is the tool a model calls to hand the turn to a peer.
const TransferToolName = "transfer_to_agent"

// TransferTool returns the tool definition exposed to model backed agents.
func TransferTool(peers []string) model.ToolDefinition {
	agent := map[string]any{"type": "string", "description": "Target agent id"}
	if len(peers) > 0 {
		agent["enum"] = peers
	}
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        TransferToolName,
			Description: "Request transfer of control to another agent by id. Use when another agent is better suited.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent":  agent,
					"reason": map[string]any{"type": "string", "description": "Why the other agent should continue"},
				},
				"required": []string{"agent"},
			},
		},
	}
}

// ParseTransfer converts a transfer_to_agent call into a Handoff. Arguments
// that are not valid JSON are repaired first. A missing agent yields a
// Handoff with an empty target.
func ParseTransfer(tc model.ToolCall) (Handoff, error) {
	if tc.Function.Name != TransferToolName {
		return Handoff{}, fmt.Errorf("not a transfer call: %s", tc.Function.Name)
	}
	var args struct {
		Agent  string `json:"agent"`
		Reason string `json:"reason"`
	}
	raw := strings.TrimSpace(string(tc.Function.Arguments))
	if raw == "" {
		return Handoff{}, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return Handoff{}, fmt.Errorf("transfer arguments: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &args); err != nil {
			return Handoff{}, fmt.Errorf("transfer arguments: %w", err)
		}
	}
	return Handoff{TargetAgentID: strings.TrimSpace(args.Agent), Reason: args.Reason}, nil
}
