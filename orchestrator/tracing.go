package orchestrator

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentrelay/core"
)

func (e *execution) startCallSpan(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return e.o.opts.Tracer.Start(ctx, "agentrelay.agent_call", trace.WithAttributes(
		attribute.String("agentrelay.request_id", e.req.RequestID),
		attribute.String("agentrelay.agent_id", agentID),
		attribute.Int("agentrelay.iteration", e.iterations),
	))
}

func markCallSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("agentrelay.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func markSpan(span trace.Span, result core.ExecutionResult) {
	span.SetAttributes(
		attribute.Int("agentrelay.iterations", result.Iterations),
		attribute.Bool("agentrelay.success", result.Success),
	)
	if result.Success {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(errors.New(result.Error))
	span.SetStatus(codes.Error, result.Error)
}
