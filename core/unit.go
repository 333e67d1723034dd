package core

import "strings"

// Unit represents one emitted piece of streamed content. Concrete unit types
// implement the unexported isUnit marker enabling a closed set.
type Unit interface{ isUnit() }

// TextUnit is a plain text segment.
type TextUnit struct {
	Text string `json:"text"`
}

// isUnit implements the Unit interface for TextUnit.
func (TextUnit) isUnit() {}

// DataUnit is a structured segment (component, artifact reference, ...).
type DataUnit struct {
	Kind    string         `json:"kind"`
	ID      string         `json:"id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// isUnit implements the Unit interface for DataUnit.
func (DataUnit) isUnit() {}

// Unit kinds used in serialized forms.
const (
	UnitKindText = "text"
	UnitKindData = "data"
)

// UnitKind returns the wire kind of a unit ("text" or "data").
func UnitKind(u Unit) string {
	switch u.(type) {
	case TextUnit:
		return UnitKindText
	case DataUnit:
		return UnitKindData
	default:
		return ""
	}
}

// CoalesceUnits merges adjacent text units and drops empty ones. Data units
// are kept in place.
func CoalesceUnits(units []Unit) []Unit {
	out := make([]Unit, 0, len(units))
	var sb strings.Builder
	flush := func() {
		if sb.Len() > 0 {
			out = append(out, TextUnit{Text: sb.String()})
			sb.Reset()
		}
	}
	for _, u := range units {
		switch v := u.(type) {
		case TextUnit:
			sb.WriteString(v.Text)
		case DataUnit:
			flush()
			out = append(out, v)
		}
	}
	flush()
	return out
}

// UnitsText concatenates the text of all text units.
func UnitsText(units []Unit) string {
	var sb strings.Builder
	for _, u := range units {
		if t, ok := u.(TextUnit); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}
