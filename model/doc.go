// Package model defines the provider-agnostic abstractions for talking to
// language models from a model backed agent.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) live in sub packages so the relay itself
// stays decoupled from vendor SDKs.
package model
