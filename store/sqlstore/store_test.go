package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentrelay/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), SQLite{}, ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.AutoMigrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, "pgx", d.DriverName())

	d, err = DialectFor("SQLite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.DriverName())

	_, err = DialectFor("oracle")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	q := "UPDATE t SET m = $2::jsonb WHERE id = $1"
	assert.Equal(t, q, Postgres{}.Rebind(q))
	assert.Equal(t, "UPDATE t SET m = ?2 WHERE id = ?1", SQLite{}.Rebind(q))
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := core.NewTask(core.ExecutionRequest{ConversationID: "conv-1", RequestID: "req-1", InitialAgentID: "a"})
	require.NoError(t, s.CreateTask(ctx, task))

	err := s.CreateTask(ctx, task)
	require.ErrorIs(t, err, core.ErrDuplicate)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusPending, got.Status)
	assert.Equal(t, "a", got.Metadata[core.MetaInitialAgentID])
	assert.WithinDuration(t, task.CreatedAt, got.CreatedAt, time.Second)

	require.NoError(t, s.UpdateTask(ctx, task.ID, core.TaskUpdate{
		Status:   core.TaskStatusCompleted,
		Metadata: map[string]any{core.MetaFinalAgentID: "b"},
	}))
	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusCompleted, got.Status)
	assert.Equal(t, "b", got.Metadata[core.MetaFinalAgentID])
	assert.Equal(t, "a", got.Metadata[core.MetaInitialAgentID], "metadata is merged, not replaced")

	_, err = s.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.UpdateTask(ctx, "missing", core.TaskUpdate{}), core.ErrNotFound)
}

func TestUpdateTask_StatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := core.NewTask(core.ExecutionRequest{ConversationID: "conv-1", RequestID: "req-2"})
	require.NoError(t, s.CreateTask(ctx, task))

	for _, status := range []core.TaskStatus{core.TaskStatusCompleted, core.TaskStatusFailed} {
		require.NoError(t, s.UpdateTask(ctx, task.ID, core.TaskUpdate{Status: status}))
		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, status, got.Status)
		assert.Equal(t, "conv-1", got.ConversationID)
	}
}

func TestCreateTask_ConcurrentInsertsOneRow(t *testing.T) {
	s := newTestStore(t)
	task := core.NewTask(core.ExecutionRequest{ConversationID: "conv-1", RequestID: "req-1"})

	var g errgroup.Group
	errs := make([]error, 8)
	for i := range errs {
		i := i
		g.Go(func() error {
			errs[i] = s.CreateTask(context.Background(), task)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, core.ErrDuplicate)
	}
	assert.Equal(t, 1, created)
}

func TestMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := core.NewUserMessage("conv-1", "task-1", "hello")
	require.NoError(t, s.CreateMessage(ctx, user))
	require.NoError(t, s.CreateMessage(ctx, user), "repeated ids are ignored")

	reply := core.NewAssistantMessage("conv-1", "task-1", "a", []core.Unit{
		core.TextUnit{Text: "See "},
		core.DataUnit{Kind: "chart", ID: "c1", Payload: map[string]any{"title": "Sales"}},
	})
	reply.CreatedAt = user.CreatedAt.Add(time.Millisecond)
	reply.Metadata = map[string]any{"handoff_to": "b"}
	require.NoError(t, s.CreateMessage(ctx, reply))
	require.NoError(t, s.CreateMessage(ctx, core.NewUserMessage("conv-2", "task-2", "other")))

	msgs, err := s.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "a", msgs[1].AgentID)
	require.Len(t, msgs[1].Parts, 2)
	assert.Equal(t, "chart", msgs[1].Parts[1].Kind)
	assert.Equal(t, "Sales", msgs[1].Parts[1].Data["title"])
	assert.Equal(t, "b", msgs[1].Metadata["handoff_to"])
}

func TestActiveAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent, err := s.ActiveAgent(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, agent)

	require.NoError(t, s.SetActiveAgent(ctx, "conv-1", "a"))
	require.NoError(t, s.SetActiveAgent(ctx, "conv-1", "b"))

	agent, err = s.ActiveAgent(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "b", agent)
}
