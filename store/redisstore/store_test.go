package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	s, err := NewStoreFromURL(url, func(o *Options) { o.Prefix = "agentrelay_test_" + t.Name() })
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := s.client.Keys(ctx, s.opts.Prefix+":*").Result()
		if len(keys) > 0 {
			_ = s.client.Del(ctx, keys...).Err()
		}
		_ = s.Close()
	})
	return s
}

func TestOperationValuesRoundTrip(t *testing.T) {
	op := core.NewOperation(core.OperationHandoff, map[string]any{"to_agent_id": "b"})
	values, err := operationValues(op)
	require.NoError(t, err)
	assert.Equal(t, "handoff", values["kind"])

	got, err := operationFromValues(values)
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
	assert.Equal(t, op.Kind, got.Kind)
	assert.Equal(t, "b", got.Payload["to_agent_id"])
	assert.True(t, op.Timestamp.Equal(got.Timestamp))
}

func TestKeys(t *testing.T) {
	s := NewStore(nil)
	assert.Equal(t, "agentrelay:conversation:c1:active_agent", s.pointerKey("c1"))
	assert.Equal(t, "agentrelay:operations:r1", s.streamKey("r1"))
}

func TestActiveAgent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	agent, err := s.ActiveAgent(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, agent)

	require.NoError(t, s.SetActiveAgent(ctx, "conv-1", "billing"))
	agent, err = s.ActiveAgent(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "billing", agent)
}

func TestPublishOperation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.PublishOperation(ctx, "req-1", core.NewOperation(core.OperationInitializing, nil)))
	require.NoError(t, s.PublishOperation(ctx, "req-1", core.NewOperation(core.OperationCompleted,
		map[string]any{"iterations": 2})))

	ops, err := s.Operations(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, core.OperationInitializing, ops[0].Kind)
	assert.Equal(t, core.OperationCompleted, ops[1].Kind)
	assert.InDelta(t, 2, ops[1].Payload["iterations"], 0)
	assert.WithinDuration(t, time.Now(), ops[1].Timestamp, time.Minute)
}
