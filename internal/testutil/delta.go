package testutil

import "github.com/hupe1980/agentrelay/parser"

// Component builds a fully known component delta.
func Component(id, name string, props map[string]any) parser.ComponentDelta {
	return parser.ComponentDelta{ID: &id, Name: &name, Props: props}
}

// TextComponent builds a text component delta carrying text.
func TextComponent(id, text string) parser.ComponentDelta {
	return Component(id, "text", map[string]any{"text": text})
}

// Delta wraps components into one object delta.
func Delta(components ...parser.ComponentDelta) parser.ObjectDelta {
	return parser.ObjectDelta{Components: components}
}
