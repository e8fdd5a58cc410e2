package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskgrid/taskgrid/task"
)

// tracerName is the instrumentation scope name for taskgrid tracing.
const tracerName = "github.com/taskgrid/taskgrid"

// Tracing returns middleware that wraps task execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: taskgrid.task.id, taskgrid.task.type,
// taskgrid.priority, taskgrid.retry_count, taskgrid.worker.id.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) ([]byte, error) {
		ctx, span := tracer.Start(ctx, "taskgrid.task.execute",
			trace.WithAttributes(
				attribute.String("taskgrid.task.id", t.ID),
				attribute.String("taskgrid.task.type", t.Type),
				attribute.Int("taskgrid.priority", t.Priority),
				attribute.Int("taskgrid.retry_count", t.RetryCount),
				attribute.String("taskgrid.worker.id", t.WorkerID.String()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		result, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return result, err
	}
}
