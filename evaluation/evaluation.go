// Package evaluation notifies downstream evaluators about completed turns.
package evaluation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// DefaultTimeout bounds one asynchronous evaluation.
const DefaultTimeout = 30 * time.Second

// Invocation describes one completed turn.
type Invocation struct {
	ConversationID string
	RequestID      string
	TaskID         string
	UserMessage    string
	Response       core.ResponseSnapshot
	Metadata       map[string]string
}

// Result is what an evaluator reports. Scores are evaluator specific.
type Result struct {
	Scores map[string]float64
	Notes  string
}

// Evaluator scores a completed invocation.
type Evaluator interface {
	Evaluate(ctx context.Context, invocation Invocation) (*Result, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, invocation Invocation) (*Result, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, inv Invocation) (*Result, error) {
	return f(ctx, inv)
}

// Options configures an AsyncTrigger.
type Options struct {
	Timeout time.Duration
	Logger  logging.Logger
	// OnResult observes every finished evaluation.
	OnResult func(inv Invocation, res *Result, err error)
}

// AsyncTrigger runs an Evaluator in the background. Trigger never blocks the
// caller, and a panicking evaluator is recovered and logged.
type AsyncTrigger struct {
	evaluator Evaluator
	opts      Options
	wg        sync.WaitGroup
}

// NewAsyncTrigger wraps evaluator.
func NewAsyncTrigger(evaluator Evaluator, optFns ...func(o *Options)) *AsyncTrigger {
	opts := Options{Timeout: DefaultTimeout, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNop(opts.Logger)
	return &AsyncTrigger{evaluator: evaluator, opts: opts}
}

// Trigger starts an evaluation detached from the caller's cancellation.
func (t *AsyncTrigger) Trigger(ctx context.Context, inv Invocation) {
	if t == nil || t.evaluator == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		res, err := t.run(ctx, inv)
		if err != nil {
			t.opts.Logger.Warn("Evaluation failed", "request_id", inv.RequestID, "task_id", inv.TaskID, "error", err)
		} else {
			t.opts.Logger.Debug("Evaluation finished", "request_id", inv.RequestID, "task_id", inv.TaskID)
		}
		if t.opts.OnResult != nil {
			t.opts.OnResult(inv, res, err)
		}
	}()
}

func (t *AsyncTrigger) run(ctx context.Context, inv Invocation) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}
	return t.evaluator.Evaluate(ctx, inv)
}

// Wait blocks until every triggered evaluation has finished.
func (t *AsyncTrigger) Wait() { t.wg.Wait() }
