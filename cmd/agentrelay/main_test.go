package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/stream"
)

func init() { color.NoColor = true }

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "agentrelay dev\n", out.String())
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "common.yaml"), []byte(`
log:
  level: error
agents:
  - id: echo
    provider: mock
`), 0o600))

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{
		"--config-dir", dir,
		"--env-file", filepath.Join(dir, ".env"),
		"run", "--conversation", "conv-1", "hello",
	})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "assistant:\nMock response to: hello\n")
	assert.Contains(t, out.String(), "completed agent=echo iterations=1 conversation=conv-1")
}

func TestRunCommand_RequiresMessage(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"run"})
	assert.Error(t, root.Execute())
}

func TestConsoleAdapter_QueuesSignalsBehindText(t *testing.T) {
	var out bytes.Buffer
	a := newConsoleAdapter(&out)
	ctx := context.Background()

	require.NoError(t, a.WriteRole(ctx, "assistant"))
	a.inFlight = true
	require.NoError(t, a.WriteSummary(ctx, core.SummaryEvent{Kind: "status", Text: "Working..."}))
	assert.Equal(t, "assistant:\n", out.String())

	require.NoError(t, a.StreamText(ctx, "Hello world", 0))
	require.NoError(t, a.WriteData(ctx, "card", map[string]any{"id": 1}))
	require.NoError(t, a.Complete(ctx))
	require.NoError(t, a.Complete(ctx))

	assert.Equal(t, "assistant:\nHello world\n… Working...\n[card] {\"id\":1}\n", out.String())
	assert.ErrorIs(t, a.WriteRole(ctx, "assistant"), stream.ErrCompleted)
}
