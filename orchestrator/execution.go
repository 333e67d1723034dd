package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentrelay/a2a"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/evaluation"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/marker"
	"github.com/hupe1980/agentrelay/parser"
	"github.com/hupe1980/agentrelay/stream"
)

// continuation is appended to the user message after a hand-off.
const continuation = "\n\n[Transferred from %s. Reason: %s. Continue helping the user with their request.]"

// Bridging message metadata keys.
const (
	metaHandoffTo     = "handoff_to"
	metaHandoffReason = "handoff_reason"
)

// execution is the state of one Execute call. It is used by a single
// goroutine and never shared.
type execution struct {
	o       *Orchestrator
	req     core.ExecutionRequest
	adapter stream.Adapter
	logger  logging.Logger
	rl      *logging.RelayLogger // nil unless the configured logger is a RelayLogger

	taskID      string
	taskCreated bool
	session     *core.Session
	parser      *parser.IncrementalParser
	budget      *core.ErrorBudget

	iterations int
	current    string
	previous   string
	reason     string
	agentIDs   []string

	cleaned  bool
	finished bool
	result   core.ExecutionResult
}

func newExecution(o *Orchestrator, req core.ExecutionRequest, adapter stream.Adapter) *execution {
	e := &execution{
		o:       o,
		req:     req,
		adapter: adapter,
		logger:  o.opts.Logger,
		taskID:  core.TaskID(req.ConversationID, req.RequestID),
		budget:  core.NewErrorBudget(o.opts.MaxErrors),
		current: req.InitialAgentID,
	}
	if rl, ok := o.opts.Logger.(*logging.RelayLogger); ok {
		e.rl = rl.WithComponent("orchestrator").WithRequest(req.RequestID, req.ConversationID)
		e.logger = e.rl
	}
	return e
}

func (e *execution) execute(ctx context.Context) core.ExecutionResult {
	if err := e.begin(ctx); err != nil {
		return e.fail(ctx, msgUnexpected, err)
	}

	limit := e.req.TransferLimit()
	message := e.req.UserMessage
	for e.iterations < limit {
		if ctx.Err() != nil {
			return e.fail(ctx, msgCancelled, ctx.Err())
		}
		e.iterations++
		e.refreshActiveAgent(ctx)

		resp, err := e.call(ctx, message)
		if ctx.Err() != nil {
			return e.fail(ctx, msgCancelled, ctx.Err())
		}
		if err != nil {
			resp = a2a.NoResponse{Reason: err.Error()}
		}

		switch r := resp.(type) {
		case a2a.Terminal:
			return e.complete(ctx, r)
		case a2a.Handoff:
			e.discardTurn(ctx)
			if r.TargetAgentID == "" {
				e.logger.Warn("Ignoring hand-off without target agent", "agent_id", e.current, "reason", r.Reason)
				continue
			}
			if err := e.handoff(ctx, r); err != nil {
				return e.fail(ctx, msgUnexpected, err)
			}
			message = e.req.UserMessage + fmt.Sprintf(continuation, e.previous, e.reason)
		default:
			e.discardTurn(ctx)
			if nr, ok := r.(a2a.NoResponse); ok {
				e.logger.Debug("Agent returned no usable response", "agent_id", e.current, "reason", nr.Reason)
			}
			if e.budget.Fail() {
				return e.fail(ctx, fmt.Sprintf(msgErrorLimit, e.budget.Max()), nil)
			}
		}
	}
	return e.fail(ctx, fmt.Sprintf(msgTransferLimit, limit), nil)
}

// begin creates the session and the task.
func (e *execution) begin(ctx context.Context) error {
	sess, err := e.o.opts.Sessions.CreateSession(ctx, e.req.RequestID, e.req.ConversationID)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	e.session = sess
	if e.req.EmitOperations {
		if err := e.o.opts.Sessions.EnableEmitOperations(e.req.RequestID); err != nil {
			e.logger.Warn("Failed to enable operations", "error", err)
		}
	}
	e.initStatusUpdates(ctx)

	e.parser = parser.New(e.adapter, func(o *parser.Options) {
		o.TextDelay = e.o.opts.TextDelay
		o.Grammar = e.o.opts.Grammar
		o.Resolver = marker.SessionResolver{Session: sess}
		o.Logger = e.logger
	})

	if err := e.adapter.WriteRole(ctx, core.RoleAssistant); err != nil {
		e.logger.Debug("Failed to write role", "error", err)
	}
	e.emitOperation(ctx, core.OperationInitializing, map[string]any{
		"conversation_id": e.req.ConversationID,
		"request_id":      e.req.RequestID,
		"agent_id":        e.req.InitialAgentID,
	})

	if err := e.createTask(ctx); err != nil {
		return err
	}
	if e.o.opts.PersistUserMessage && e.req.UserMessage != "" {
		msg := core.NewUserMessage(e.req.ConversationID, e.taskID, e.req.UserMessage)
		if err := e.o.stores.Messages.CreateMessage(ctx, msg); err != nil && !errors.Is(err, core.ErrDuplicate) {
			e.logger.Warn("Failed to persist user message", "error", err)
		}
	}
	return nil
}

func (e *execution) initStatusUpdates(ctx context.Context) {
	cfg, err := e.o.opts.Directory.Lookup(ctx, e.req.InitialAgentID)
	if err != nil {
		e.logger.Debug("No agent configuration for status updates", "agent_id", e.req.InitialAgentID, "error", err)
		return
	}
	if err := e.o.opts.Sessions.InitializeStatusUpdates(ctx, e.req.RequestID, cfg.StatusUpdates); err != nil {
		e.logger.Warn("Failed to initialize status updates", "error", err)
	}
}

// createTask inserts the task or, when a concurrent attempt won the race,
// adopts the existing row.
func (e *execution) createTask(ctx context.Context) error {
	task := core.NewTask(e.req)
	err := e.o.stores.Tasks.CreateTask(ctx, task)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrDuplicate):
		e.o.opts.Metrics.IncDuplicateTask()
		existing, gerr := e.o.stores.Tasks.GetTask(ctx, task.ID)
		if gerr != nil {
			return fmt.Errorf("fetch existing task: %w", gerr)
		}
		e.logger.Info("Reusing existing task", "task_id", existing.ID, "status", string(existing.Status))
	default:
		return fmt.Errorf("create task: %w", err)
	}
	e.taskCreated = true
	return nil
}

func (e *execution) refreshActiveAgent(ctx context.Context) {
	agentID, err := e.o.stores.Conversations.ActiveAgent(ctx, e.req.ConversationID)
	if err != nil {
		e.logger.Warn("Failed to read active agent", "error", err)
		return
	}
	if agentID != "" && agentID != e.current {
		e.logger.Debug("Active agent changed", "from", e.current, "to", agentID)
		e.current = agentID
	}
}

func (e *execution) routingMetadata() map[string]string {
	meta := make(map[string]string, len(e.req.Metadata)+6)
	for k, v := range e.req.Metadata {
		meta[k] = v
	}
	meta[a2a.MetaConversationID] = e.req.ConversationID
	meta[a2a.MetaRequestID] = e.req.RequestID
	meta[a2a.MetaTaskID] = e.taskID
	meta[a2a.MetaIteration] = fmt.Sprint(e.iterations)
	if e.previous != "" {
		meta[a2a.MetaPreviousAgentID] = e.previous
		meta[a2a.MetaHandoffReason] = e.reason
	}
	return meta
}

// call sends one turn to the current agent. Streamed content flows into the
// request's parser.
func (e *execution) call(ctx context.Context, message string) (a2a.Response, error) {
	e.trackAgent(e.current)
	e.emitOperation(ctx, core.OperationAgentCall, map[string]any{
		"agent_id":  e.current,
		"iteration": e.iterations,
	})

	cfg, err := e.o.opts.Directory.Lookup(ctx, e.current)
	if err != nil {
		return nil, fmt.Errorf("lookup agent %s: %w", e.current, err)
	}

	callCtx, span := e.startCallSpan(ctx, e.current)
	start := time.Now()
	resp, err := e.o.client.SendMessage(callCtx, cfg.Endpoint, a2a.SendRequest{
		Message:  message,
		Metadata: e.routingMetadata(),
		Observer: parserObserver{p: e.parser},
	})
	dur := time.Since(start)

	outcome := outcomeOf(resp, err)
	markCallSpan(span, outcome, err)
	e.o.opts.Metrics.ObserveAgentCall(outcome, dur)
	if e.rl != nil {
		e.rl.LogAgentCall(e.current, e.iterations, dur, outcome, err)
	} else if err != nil {
		e.logger.Warn("Agent call failed", "agent_id", e.current, "iteration", e.iterations, "error", err)
	}
	return resp, err
}

func outcomeOf(resp a2a.Response, err error) string {
	if err != nil {
		return "error"
	}
	switch r := resp.(type) {
	case a2a.Terminal:
		return "terminal"
	case a2a.Handoff:
		if r.TargetAgentID == "" {
			return "malformed_handoff"
		}
		return "handoff"
	default:
		return "no_response"
	}
}

// discardTurn finalizes the parser and drops what it collected for the turn.
// Already streamed units stay with the client.
func (e *execution) discardTurn(ctx context.Context) {
	if err := e.parser.Finalize(ctx); err != nil {
		e.logger.Debug("Finalizing parser failed", "error", err)
	}
	if dropped := e.parser.DrainCollectedUnits(); len(dropped) > 0 {
		e.parser.MarkPriorToolResult()
	}
}

func (e *execution) handoff(ctx context.Context, h a2a.Handoff) error {
	from := e.current

	var units []core.Unit
	if h.Reason != "" {
		units = []core.Unit{core.TextUnit{Text: h.Reason}}
	}
	bridge := core.NewAssistantMessage(e.req.ConversationID, e.taskID, from, units)
	bridge.Metadata = map[string]any{metaHandoffTo: h.TargetAgentID, metaHandoffReason: h.Reason}
	if err := e.o.stores.Messages.CreateMessage(ctx, bridge); err != nil {
		return fmt.Errorf("persist hand-off message: %w", err)
	}

	if err := e.o.stores.Conversations.SetActiveAgent(ctx, e.req.ConversationID, h.TargetAgentID); err != nil {
		e.logger.Warn("Failed to move active agent", "to", h.TargetAgentID, "error", err)
	}
	e.emitOperation(ctx, core.OperationHandoff, map[string]any{
		"from_agent_id": from,
		"to_agent_id":   h.TargetAgentID,
		"reason":        h.Reason,
	})
	e.o.opts.Metrics.IncHandoff()
	if e.rl != nil {
		e.rl.LogHandoff(from, h.TargetAgentID, h.Reason)
	}

	e.previous, e.reason = from, h.Reason
	e.current = h.TargetAgentID
	return nil
}

func (e *execution) complete(ctx context.Context, t a2a.Terminal) core.ExecutionResult {
	if err := e.parser.Finalize(ctx); err != nil {
		e.logger.Debug("Finalizing parser failed", "error", err)
	}
	units := e.parser.DrainCollectedUnits()
	if len(units) == 0 {
		units = e.fallbackUnits(ctx, t)
	}
	units = core.CoalesceUnits(units)

	snapshot := &core.ResponseSnapshot{
		AgentID: e.current,
		Text:    core.UnitsText(units),
		Parts:   core.PartsFromUnits(units),
	}

	msg := core.NewAssistantMessage(e.req.ConversationID, e.taskID, e.current, units)
	if err := e.o.stores.Messages.CreateMessage(ctx, msg); err != nil {
		return e.fail(ctx, msgUnexpected, fmt.Errorf("persist assistant message: %w", err))
	}

	if err := e.o.stores.Tasks.UpdateTask(ctx, e.taskID, core.TaskUpdate{
		Status: core.TaskStatusCompleted,
		Metadata: map[string]any{
			core.MetaFinalAgentID: e.current,
			core.MetaAgentIDs:     e.agentIDs,
			core.MetaIterations:   e.iterations,
			core.MetaCompletedAt:  time.Now().UTC().Format(time.RFC3339Nano),
			core.MetaResponse: map[string]any{
				"text":     snapshot.Text,
				"units":    snapshot.Parts,
				"agent_id": snapshot.AgentID,
			},
		},
	}); err != nil {
		return e.fail(ctx, msgUnexpected, fmt.Errorf("complete task: %w", err))
	}
	e.archive(ctx, snapshot)

	e.emitOperation(ctx, core.OperationCompleted, map[string]any{
		"agent_id":   e.current,
		"task_id":    e.taskID,
		"iterations": e.iterations,
	})
	e.cleanup(ctx)

	if !e.req.BatchRun {
		e.o.opts.Evaluator.Trigger(ctx, evaluation.Invocation{
			ConversationID: e.req.ConversationID,
			RequestID:      e.req.RequestID,
			TaskID:         e.taskID,
			UserMessage:    e.req.UserMessage,
			Response:       *snapshot,
			Metadata:       e.req.Metadata,
		})
	}

	return e.finish(core.ExecutionResult{
		Success:    true,
		Iterations: e.iterations,
		Response:   snapshot,
		TaskID:     e.taskID,
	})
}

// fallbackUnits parses the raw terminal text when nothing was streamed and
// emits the result to the adapter.
func (e *execution) fallbackUnits(ctx context.Context, t a2a.Terminal) []core.Unit {
	units := e.o.opts.Grammar.Parse(t.Text, marker.SessionResolver{Session: e.session})
	units = core.CoalesceUnits(append(units, t.Artifacts...))
	for _, u := range units {
		if err := stream.Emit(ctx, e.adapter, u, e.o.opts.TextDelay); err != nil {
			e.logger.Warn("Failed to stream terminal response", "error", err)
			break
		}
	}
	return units
}

func (e *execution) archive(ctx context.Context, snapshot *core.ResponseSnapshot) {
	if e.o.opts.Artifacts == nil {
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		e.logger.Warn("Failed to encode response snapshot", "error", err)
		return
	}
	key := e.req.ConversationID + "/" + e.taskID + ".json"
	if err := e.o.opts.Artifacts.Save(ctx, key, data, "application/json"); err != nil {
		e.logger.Warn("Failed to archive response snapshot", "key", key, "error", err)
	}
}

// fail is the single fatal path: error operation, failed task, cleanup.
func (e *execution) fail(ctx context.Context, msg string, cause error) core.ExecutionResult {
	if e.finished {
		return e.result
	}
	ctx = context.WithoutCancel(ctx)
	if cause != nil {
		e.logger.Error("Execution failed", "error", msg, "cause", cause.Error())
	} else {
		e.logger.Error("Execution failed", "error", msg)
	}

	e.emitOperation(ctx, core.OperationError, map[string]any{
		"message":    msg,
		"iterations": e.iterations,
	})
	if e.taskCreated {
		if err := e.o.stores.Tasks.UpdateTask(ctx, e.taskID, core.TaskUpdate{
			Status: core.TaskStatusFailed,
			Metadata: map[string]any{
				core.MetaError:        msg,
				core.MetaFailedAt:     time.Now().UTC().Format(time.RFC3339Nano),
				core.MetaIterations:   e.iterations,
				core.MetaAgentIDs:     e.agentIDs,
				core.MetaFinalAgentID: e.current,
			},
		}); err != nil {
			e.logger.Error("Failed to mark task failed", "task_id", e.taskID, "error", err)
		}
	}
	e.cleanup(ctx)

	return e.finish(core.ExecutionResult{
		Success:    false,
		Iterations: e.iterations,
		Error:      msg,
		TaskID:     e.taskID,
	})
}

func (e *execution) finish(r core.ExecutionResult) core.ExecutionResult {
	e.finished = true
	e.result = r
	return r
}

// cleanup completes the adapter, ends the session and unregisters the
// adapter. It runs at most once.
func (e *execution) cleanup(ctx context.Context) {
	if e.cleaned {
		return
	}
	e.cleaned = true
	if err := e.adapter.Complete(ctx); err != nil {
		e.logger.Debug("Completing adapter failed", "error", err)
	}
	if e.session != nil {
		if err := e.o.opts.Sessions.EndSession(e.req.RequestID); err != nil {
			e.logger.Debug("Ending session failed", "error", err)
		}
	}
	e.o.opts.Adapters.Unregister(e.req.RequestID)
}

// emitOperation publishes op and, when the request asked for operations,
// writes it to the client.
func (e *execution) emitOperation(ctx context.Context, kind core.OperationKind, payload map[string]any) {
	op := core.NewOperation(kind, payload)
	if pub := e.o.opts.Publisher; pub != nil {
		if err := pub.PublishOperation(ctx, e.req.RequestID, op); err != nil {
			e.logger.Debug("Publishing operation failed", "kind", string(kind), "error", err)
		}
	}
	if e.session == nil || !e.session.OperationsEnabled() {
		return
	}
	if err := e.o.opts.Adapters.WriteOperation(ctx, e.req.RequestID, op); err != nil {
		e.logger.Debug("Writing operation failed", "kind", string(kind), "error", err)
	}
}

func (e *execution) trackAgent(agentID string) {
	for _, id := range e.agentIDs {
		if id == agentID {
			return
		}
	}
	e.agentIDs = append(e.agentIDs, agentID)
}

func (e *execution) logExecution(result core.ExecutionResult, d time.Duration) {
	if e.rl != nil {
		e.rl.LogExecution(result.Iterations, d, result.Success, result.Error)
	}
}
