package parser

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// ComponentDelta is the partial state of one structured component. Nil
// fields are "not yet known" and never overwrite a known value.
type ComponentDelta struct {
	ID    *string        `json:"id,omitempty"`
	Name  *string        `json:"name,omitempty"`
	Kind  *string        `json:"kind,omitempty"`
	Props map[string]any `json:"props,omitempty"`
}

// ObjectDelta is one partial update of the structured output of an agent.
type ObjectDelta struct {
	Components []ComponentDelta `json:"components"`
}

// DecodeDelta decodes a possibly truncated JSON delta. The input is repaired
// before decoding so that a cut-off stream still yields its known fields.
func DecodeDelta(raw string) (ObjectDelta, error) {
	var d ObjectDelta
	if err := json.Unmarshal([]byte(raw), &d); err == nil {
		return d, nil
	}
	fixed, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return ObjectDelta{}, fmt.Errorf("repair delta: %w", err)
	}
	if err := json.Unmarshal([]byte(fixed), &d); err != nil {
		return ObjectDelta{}, fmt.Errorf("decode delta: %w", err)
	}
	return d, nil
}

// pending is the accumulated state of the component at one position.
type pending struct {
	ComponentDelta
	done bool
}

// merge folds src into dst field by field; newest non-nil wins.
func (dst *ComponentDelta) merge(src ComponentDelta) {
	if src.ID != nil {
		dst.ID = src.ID
	}
	if src.Name != nil {
		dst.Name = src.Name
	}
	if src.Kind != nil {
		dst.Kind = src.Kind
	}
	if src.Props != nil {
		dst.Props = mergeProps(dst.Props, src.Props)
	}
}

func mergeProps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if v == nil {
			continue
		}
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				dst[k] = mergeProps(dm, sm)
				continue
			}
			dst[k] = mergeProps(nil, sm)
			continue
		}
		dst[k] = v
	}
	return dst
}

func (c ComponentDelta) id() string   { return deref(c.ID) }
func (c ComponentDelta) name() string { return deref(c.Name) }

func (c ComponentDelta) shapeComplete() bool {
	return c.id() != "" && c.name() != "" && c.Props != nil
}

// isText reports whether the component is a plain text block.
func (c ComponentDelta) isText() bool {
	if c.Kind != nil {
		return *c.Kind == "text"
	}
	return c.name() == "text"
}

func (c ComponentDelta) text() string {
	s, _ := c.Props["text"].(string)
	return s
}

func (c ComponentDelta) snapshot() string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(b)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func copyProps(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sm, ok := v.(map[string]any); ok {
			out[k] = copyProps(sm)
			continue
		}
		out[k] = v
	}
	return out
}
