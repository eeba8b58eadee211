// Package middleware provides composable middleware for workflow
// execution.
//
// A [Middleware] wraps a workflow handler. Middleware are composed into
// a chain using [Chain] and applied right-to-left: the first middleware
// in the slice is the outermost wrapper.
//
//	// recover → tracing → logging → handler
//	chain := middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.Tracing(),
//	    middleware.Logging(logger),
//	)
//
// # Built-in Middleware
//
//   - [Recover] — catches panics and converts them to errors
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-workflow duration and outcome counters
//   - [Logging] — logs workflow name, duration, and outcome
//   - [Timeout] — cancels the workflow context after its manifest deadline
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
