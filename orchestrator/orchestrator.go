package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentrelay/a2a"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/evaluation"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/marker"
	"github.com/hupe1980/agentrelay/metrics"
	"github.com/hupe1980/agentrelay/session"
	"github.com/hupe1980/agentrelay/store/memory"
	"github.com/hupe1980/agentrelay/stream"
)

// DefaultMaxErrors is the consecutive no-response cap.
const DefaultMaxErrors = 3

// Failure messages reported in ExecutionResult.Error.
const (
	msgErrorLimit    = "Maximum error limit (%d) reached"
	msgTransferLimit = "Maximum transfer limit (%d) reached without completion"
	msgCancelled     = "Execution cancelled"
	msgUnexpected    = "Unexpected execution error"
)

const traceScope = "github.com/hupe1980/agentrelay/orchestrator"

// Stores bundles the persistence collaborators.
type Stores struct {
	Tasks         core.TaskStore
	Messages      core.MessageStore
	Conversations core.ConversationStore
}

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// MaxErrors caps consecutive no-response iterations.
	MaxErrors int
	// TextDelay paces streamed text word by word.
	TextDelay time.Duration
	// PersistUserMessage stores the user message when the task is created.
	PersistUserMessage bool

	Directory core.AgentDirectory
	Sessions  core.SessionRegistry
	Adapters  *stream.Registry
	Grammar   *marker.Grammar

	// Optional collaborators.
	Artifacts core.ArtifactStore
	Publisher core.OperationPublisher
	Evaluator *evaluation.AsyncTrigger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	Logger    logging.Logger
}

// Orchestrator drives the bounded execution/transfer loop. Public methods
// are safe for concurrent use; each Execute call owns one request id.
type Orchestrator struct {
	client a2a.Client
	stores Stores
	opts   Options

	activeRuns map[string]context.CancelFunc
	mu         sync.Mutex
}

// New constructs an Orchestrator. Unset stores fall back to one in-memory
// store, and unset registries are created so that the adapter registry also
// receives the sessions' status updates.
func New(client a2a.Client, stores Stores, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxErrors:          DefaultMaxErrors,
		PersistUserMessage: true,
		Grammar:            marker.Default,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	opts.Logger = logging.OrNop(opts.Logger)
	if opts.Adapters == nil {
		opts.Adapters = stream.NewRegistry()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewRegistry(func(o *session.Options) {
			o.Sink = opts.Adapters
			o.Logger = opts.Logger
		})
	}
	if opts.Directory == nil {
		opts.Directory = a2a.NewModelDirectory()
	}
	if opts.Grammar == nil {
		opts.Grammar = marker.Default
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(traceScope)
	}
	if stores.Tasks == nil || stores.Messages == nil || stores.Conversations == nil {
		mem := memory.New()
		if stores.Tasks == nil {
			stores.Tasks = mem
		}
		if stores.Messages == nil {
			stores.Messages = mem
		}
		if stores.Conversations == nil {
			stores.Conversations = mem
		}
	}

	return &Orchestrator{
		client:     client,
		stores:     stores,
		opts:       opts,
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Adapters returns the adapter registry used by Execute.
func (o *Orchestrator) Adapters() *stream.Registry { return o.opts.Adapters }

// Execute runs one request to completion and reports the outcome. It never
// returns an error or panics; a nil adapter buffers the output.
func (o *Orchestrator) Execute(ctx context.Context, req core.ExecutionRequest, adapter stream.Adapter) (result core.ExecutionResult) {
	start := time.Now()
	if adapter == nil {
		adapter = stream.NewBufferingAdapter()
	}

	ctx, span := o.opts.Tracer.Start(ctx, "agentrelay.execute", trace.WithAttributes(
		attribute.String("agentrelay.conversation_id", req.ConversationID),
		attribute.String("agentrelay.request_id", req.RequestID),
		attribute.String("agentrelay.initial_agent_id", req.InitialAgentID),
	))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.opts.Metrics.ExecutionStarted()

	run := newExecution(o, req, adapter)
	owned := false
	defer func() {
		if r := recover(); r != nil {
			o.opts.Logger.Error("Recovered panic in execution", "request_id", req.RequestID, "panic", fmt.Sprint(r))
			result = run.fail(ctx, msgUnexpected, fmt.Errorf("panic: %v", r))
		}
		if owned {
			o.untrack(req.RequestID)
		}
		run.logExecution(result, time.Since(start))
		o.opts.Metrics.ObserveExecution(result.Success, result.Iterations, time.Since(start))
		markSpan(span, result)
	}()

	if err := o.opts.Adapters.Register(req.RequestID, adapter); err != nil {
		// Another execution owns this request id; leave its state alone.
		o.opts.Logger.Warn("Rejected execution", "request_id", req.RequestID, "error", err)
		_ = adapter.Complete(context.WithoutCancel(ctx))
		return core.ExecutionResult{Error: err.Error()}
	}
	o.track(req.RequestID, cancel)
	owned = true

	return run.execute(ctx)
}

// Cancel aborts the in-flight execution of requestID. The execution routes
// to its failure cleanup and reports "Execution cancelled".
func (o *Orchestrator) Cancel(requestID string) error {
	o.mu.Lock()
	cancel, exists := o.activeRuns[requestID]
	o.mu.Unlock()

	if !exists {
		return fmt.Errorf("execution %s: %w", requestID, core.ErrNotFound)
	}
	cancel()
	return nil
}

// Active returns the number of in-flight executions.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.activeRuns)
}

func (o *Orchestrator) track(requestID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activeRuns[requestID] = cancel
}

func (o *Orchestrator) untrack(requestID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, requestID)
}
