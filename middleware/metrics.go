package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Theauxm/manifold/metadata"
)

// meterName is the instrumentation scope name for manifold metrics.
const meterName = "github.com/Theauxm/manifold"

// Metrics returns middleware that records per-workflow execution
// metrics using the global OTel MeterProvider. If none is configured,
// noop instruments are used and this middleware is a pass-through.
//
// Instruments:
//   - manifold.workflow.duration (Float64Histogram): execution time in
//     seconds, with attributes: workflow, status ("ok" or "error")
//   - manifold.workflow.executions (Int64Counter): total executions,
//     with attributes: workflow, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// On error the OTel API returns noop instruments, so the
	// middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"manifold.workflow.duration",
		metric.WithDescription("Duration of workflow execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	executions, eErr := meter.Int64Counter(
		"manifold.workflow.executions",
		metric.WithDescription("Total number of workflow executions"),
		metric.WithUnit("{execution}"),
	)
	_ = eErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, md *metadata.Metadata, next Handler) ([]byte, error) {
		start := time.Now()
		out, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("workflow", md.Name),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return out, err
	}
}
