// Package agentrelay provides a high-level facade over the orchestrator and
// its collaborators (agent clients, stores, sessions and stream adapters).
// Most applications interact with this package by:
//  1. Creating a Relay via New() (optionally overriding the in-memory stores)
//  2. Registering model backed agents (RegisterAgent) or remote agents
//     reached over HTTP (RegisterRemoteAgent)
//  3. Executing turns against a stream adapter (Execute) or buffered
//     (ExecuteSync)
//
// Defaults are safe for local development and tests; production deployments
// supply durable stores and a structured logger.
package agentrelay

import (
	"context"
	"time"

	"github.com/hupe1980/agentrelay/a2a"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/evaluation"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/metrics"
	"github.com/hupe1980/agentrelay/orchestrator"
	"github.com/hupe1980/agentrelay/store/memory"
	"github.com/hupe1980/agentrelay/stream"
)

// Options configures the Relay instance.
type Options struct {
	// MaxErrors caps consecutive no-response iterations per execution.
	MaxErrors int
	// TextDelay paces streamed text word by word.
	TextDelay time.Duration
	// StreamModelOutput forwards partial model output of in-process agents.
	StreamModelOutput bool

	// Stores default to one shared in-memory store.
	Tasks         core.TaskStore
	Messages      core.MessageStore
	Conversations core.ConversationStore

	// Optional collaborators.
	Artifacts core.ArtifactStore
	Publisher core.OperationPublisher
	Evaluator evaluation.Evaluator
	Metrics   *metrics.Metrics
	// HTTPClient reaches remote agents. Defaults to a2a.NewHTTPClient.
	HTTPClient a2a.Client

	Logger logging.Logger
}

// Relay is the high-level facade aggregating the orchestrator and the agent
// clients it routes to.
type Relay struct {
	opts      Options
	models    *a2a.ModelClient
	directory *a2a.Directory
	stores    orchestrator.Stores
	orch      *orchestrator.Orchestrator
	trigger   *evaluation.AsyncTrigger
}

// New creates a Relay. Agents are resolved from the relay's directory;
// endpoints with the model scheme run in-process, http(s) endpoints go
// through the HTTP client.
func New(optFns ...func(o *Options)) *Relay {
	opts := Options{
		MaxErrors:         orchestrator.DefaultMaxErrors,
		StreamModelOutput: true,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNop(opts.Logger)

	if opts.Tasks == nil || opts.Messages == nil || opts.Conversations == nil {
		mem := memory.New()
		if opts.Tasks == nil {
			opts.Tasks = mem
		}
		if opts.Messages == nil {
			opts.Messages = mem
		}
		if opts.Conversations == nil {
			opts.Conversations = mem
		}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = a2a.NewHTTPClient(func(o *a2a.HTTPOptions) { o.Logger = opts.Logger })
	}

	models := a2a.NewModelClient(nil, func(o *a2a.ModelClientOptions) {
		o.Stream = opts.StreamModelOutput
		o.Logger = opts.Logger
	})
	router := a2a.NewRouter()
	router.Handle(a2a.ModelScheme, models)
	router.Handle("http", opts.HTTPClient)
	router.Handle("https", opts.HTTPClient)

	r := &Relay{
		opts:      opts,
		models:    models,
		directory: a2a.NewDirectory(),
		stores: orchestrator.Stores{
			Tasks:         opts.Tasks,
			Messages:      opts.Messages,
			Conversations: opts.Conversations,
		},
	}
	if opts.Evaluator != nil {
		r.trigger = evaluation.NewAsyncTrigger(opts.Evaluator, func(o *evaluation.Options) {
			o.Logger = opts.Logger
		})
	}

	r.orch = orchestrator.New(router, r.stores, func(o *orchestrator.Options) {
		o.MaxErrors = opts.MaxErrors
		o.TextDelay = opts.TextDelay
		o.Directory = r.directory
		o.Artifacts = opts.Artifacts
		o.Publisher = opts.Publisher
		o.Evaluator = r.trigger
		o.Metrics = opts.Metrics
		o.Logger = opts.Logger
	})
	return r
}

// RegisterAgent adds an in-process, model backed agent.
func (r *Relay) RegisterAgent(a a2a.Agent, policy core.StatusUpdatePolicy) {
	r.models.Register(a)
	r.directory.Set(core.AgentConfig{ID: a.ID, Endpoint: a2a.Endpoint(a.ID), StatusUpdates: policy})
}

// RegisterRemoteAgent adds an agent reached at cfg.Endpoint.
func (r *Relay) RegisterRemoteAgent(cfg core.AgentConfig) { r.directory.Set(cfg) }

// Execute runs one turn, writing output to adapter. See
// orchestrator.Orchestrator.Execute.
func (r *Relay) Execute(ctx context.Context, req core.ExecutionRequest, adapter stream.Adapter) core.ExecutionResult {
	return r.orch.Execute(ctx, req, adapter)
}

// ExecuteSync runs one turn and returns the buffered output with the result.
func (r *Relay) ExecuteSync(ctx context.Context, req core.ExecutionRequest) (core.ExecutionResult, *stream.BufferingAdapter) {
	adapter := stream.NewBufferingAdapter()
	return r.orch.Execute(ctx, req, adapter), adapter
}

// Cancel aborts an in-flight execution.
func (r *Relay) Cancel(requestID string) error { return r.orch.Cancel(requestID) }

// Orchestrator returns the underlying orchestrator.
func (r *Relay) Orchestrator() *orchestrator.Orchestrator { return r.orch }

// Stores returns the stores the orchestrator writes to.
func (r *Relay) Stores() orchestrator.Stores { return r.stores }

// Agents returns the in-process agent client.
func (r *Relay) Agents() *a2a.ModelClient { return r.models }

// Wait blocks until pending evaluations have finished.
func (r *Relay) Wait() {
	if r.trigger != nil {
		r.trigger.Wait()
	}
}
