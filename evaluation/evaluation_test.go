package evaluation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

var _ Evaluator = EvaluatorFunc(nil)

// MockEvaluator records Evaluate calls.
type MockEvaluator struct {
	mock.Mock
}

func (m *MockEvaluator) Evaluate(ctx context.Context, inv Invocation) (*Result, error) {
	args := m.Called(ctx, inv)
	res, _ := args.Get(0).(*Result)
	return res, args.Error(1)
}

var _ Evaluator = (*MockEvaluator)(nil)

func TestAsyncTrigger_AppliesTimeout(t *testing.T) {
	ev := &MockEvaluator{}
	ev.On("Evaluate", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), mock.MatchedBy(func(inv Invocation) bool {
		return inv.TaskID == "task-1"
	})).Return(&Result{Scores: map[string]float64{"helpful": 0.5}}, nil).Once()

	var got *Result
	trig := NewAsyncTrigger(ev, func(o *Options) {
		o.OnResult = func(_ Invocation, res *Result, _ error) { got = res }
	})
	trig.Trigger(context.Background(), Invocation{RequestID: "req-3", TaskID: "task-1"})
	trig.Wait()

	ev.AssertExpectations(t)
	require.NotNil(t, got)
	assert.InDelta(t, 0.5, got.Scores["helpful"], 1e-9)
}

func TestAsyncTrigger_RunsDetached(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []Invocation
		errs []error
	)
	trig := NewAsyncTrigger(EvaluatorFunc(func(ctx context.Context, inv Invocation) (*Result, error) {
		assert.NoError(t, ctx.Err())
		return &Result{Scores: map[string]float64{"helpful": 1}}, nil
	}), func(o *Options) {
		o.OnResult = func(inv Invocation, _ *Result, err error) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, inv)
			errs = append(errs, err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	trig.Trigger(ctx, Invocation{RequestID: "req-1", Response: core.ResponseSnapshot{Text: "Done."}})
	cancel()
	trig.Wait()

	require.Len(t, got, 1)
	assert.Equal(t, "req-1", got[0].RequestID)
	assert.NoError(t, errs[0])
}

func TestAsyncTrigger_RecoversPanic(t *testing.T) {
	var gotErr error
	trig := NewAsyncTrigger(EvaluatorFunc(func(context.Context, Invocation) (*Result, error) {
		panic("boom")
	}), func(o *Options) {
		o.OnResult = func(_ Invocation, _ *Result, err error) { gotErr = err }
	})

	trig.Trigger(context.Background(), Invocation{RequestID: "req-2"})
	trig.Wait()

	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "boom")
}

func TestAsyncTrigger_NilIsNoop(t *testing.T) {
	var trig *AsyncTrigger
	trig.Trigger(context.Background(), Invocation{})
	NewAsyncTrigger(nil).Trigger(context.Background(), Invocation{})
}
