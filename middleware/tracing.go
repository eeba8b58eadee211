package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Theauxm/manifold/metadata"
)

// tracerName is the instrumentation scope name for manifold tracing.
const tracerName = "github.com/Theauxm/manifold"

// Tracing returns middleware that wraps workflow execution in an
// OpenTelemetry span. With no global TracerProvider configured the
// noop tracer is used and this middleware is a pass-through.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, md *metadata.Metadata, next Handler) ([]byte, error) {
		ctx, span := tracer.Start(ctx, "manifold.workflow.execute",
			trace.WithAttributes(
				attribute.String("manifold.metadata.id", md.ID.String()),
				attribute.String("manifold.workflow.name", md.Name),
				attribute.String("manifold.manifest.id", md.ManifestID.String()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		out, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return out, err
	}
}
