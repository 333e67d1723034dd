package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperation_Constructors(t *testing.T) {
	op := NewOperation(OperationHandoff, map[string]any{"to": "b"})
	if op.ID == "" || op.Timestamp.IsZero() || op.Kind != OperationHandoff {
		t.Fatalf("NewOperation did not initialize fields correctly: %+v", op)
	}

	sum := NewSummary("status", "still working")
	assert.NotEmpty(t, sum.ID)
	assert.Equal(t, "still working", sum.Text)

	var signals []Signal
	signals = append(signals, op, sum)
	assert.Len(t, signals, 2)
}

func TestUnits_CoalesceAndText(t *testing.T) {
	units := []Unit{
		TextUnit{Text: "Hello, "},
		TextUnit{Text: "world"},
		DataUnit{Kind: "chart", ID: "c1"},
		TextUnit{Text: ""},
		TextUnit{Text: "!"},
	}

	merged := CoalesceUnits(units)
	assert.Equal(t, []Unit{
		TextUnit{Text: "Hello, world"},
		DataUnit{Kind: "chart", ID: "c1"},
		TextUnit{Text: "!"},
	}, merged)
	assert.Equal(t, "Hello, world!", UnitsText(units))
	assert.Equal(t, UnitKindData, UnitKind(units[2]))
}

func TestTaskID_Deterministic(t *testing.T) {
	a := TaskID("conv-1", "req-1")
	b := TaskID("conv-1", "req-1")
	c := TaskID("conv-1", "req-2")
	d := TaskID("conv-1r", "eq-2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, c, d, "separator must keep concatenations apart")
}

func TestTaskUpdate_MergesMetadata(t *testing.T) {
	task := NewTask(ExecutionRequest{ConversationID: "c", RequestID: "r", InitialAgentID: "a"})
	assert.Equal(t, TaskStatusPending, task.Status)

	before := task.UpdatedAt
	TaskUpdate{Status: TaskStatusFailed, Metadata: map[string]any{MetaError: "boom"}}.Apply(task)

	assert.Equal(t, TaskStatusFailed, task.Status)
	assert.Equal(t, "a", task.Metadata[MetaInitialAgentID])
	assert.Equal(t, "boom", task.Metadata[MetaError])
	assert.False(t, task.UpdatedAt.Before(before))
}

func TestErrorBudget(t *testing.T) {
	b := NewErrorBudget(3)
	assert.False(t, b.Fail())
	assert.False(t, b.Fail())
	assert.True(t, b.Fail())
	assert.Equal(t, 3, b.Count())

	assert.Equal(t, 1, NewErrorBudget(0).Max())
}

func TestExecutionRequest_TransferLimit(t *testing.T) {
	assert.Equal(t, DefaultMaxTransfers, ExecutionRequest{}.TransferLimit())
	assert.Equal(t, 2, ExecutionRequest{MaxTransfers: 2}.TransferLimit())
}
