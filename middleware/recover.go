package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/Theauxm/manifold/metadata"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to errors and logged with a stack trace,
// so a panicking workflow fails its execution instead of taking the
// dispatcher down.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, md *metadata.Metadata, next Handler) (out []byte, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("workflow panicked",
					slog.String("workflow", md.Name),
					slog.String("metadata_id", md.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				out = nil
				retErr = fmt.Errorf("panic in workflow %s: %v", md.Name, r)
			}
		}()
		return next(ctx)
	}
}
