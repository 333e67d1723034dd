package a2a

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/parser"
)

// Frame types of the newline delimited JSON stream.
const (
	FrameText       = "text"
	FrameObject     = "object"
	FrameToolResult = "tool_result"
	FrameHandoff    = "handoff"
	FrameFinal      = "final"
	FrameNoResponse = "no_response"
)

// wireRequest is the JSON body POSTed to an agent endpoint.
type wireRequest struct {
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// frame is one line of an agent response stream. Delta holds either an
// object or a JSON string with a possibly partial encoding of one.
type frame struct {
	Type      string             `json:"type"`
	Text      string             `json:"text,omitempty"`
	Delta     json.RawMessage    `json:"delta,omitempty"`
	Agent     string             `json:"agent,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Artifacts []core.MessagePart `json:"artifacts,omitempty"`
}

func (f frame) objectDelta() (parser.ObjectDelta, error) {
	if len(f.Delta) > 0 && f.Delta[0] == '"' {
		var partial string
		if err := json.Unmarshal(f.Delta, &partial); err != nil {
			return parser.ObjectDelta{}, fmt.Errorf("decode delta string: %w", err)
		}
		return parser.DecodeDelta(partial)
	}
	return parser.DecodeDelta(string(f.Delta))
}

func unitsFromParts(parts []core.MessagePart) []core.Unit {
	var units []core.Unit
	for _, p := range parts {
		switch p.Type {
		case core.UnitKindData:
			units = append(units, core.DataUnit{Kind: p.Kind, ID: p.ID, Payload: p.Data})
		default:
			if p.Text != "" {
				units = append(units, core.TextUnit{Text: p.Text})
			}
		}
	}
	return units
}

func responseFrame(resp Response) frame {
	switch r := resp.(type) {
	case Handoff:
		return frame{Type: FrameHandoff, Agent: r.TargetAgentID, Reason: r.Reason}
	case Terminal:
		return frame{Type: FrameFinal, Text: r.Text, Artifacts: core.PartsFromUnits(r.Artifacts)}
	case NoResponse:
		return frame{Type: FrameNoResponse, Reason: r.Reason}
	default:
		return frame{Type: FrameNoResponse, Reason: fmt.Sprintf("unknown response %T", resp)}
	}
}
