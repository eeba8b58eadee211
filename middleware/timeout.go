package middleware

import (
	"context"
	"time"

	"github.com/Theauxm/manifold/metadata"
)

// Timeout returns middleware that enforces a per-execution deadline.
// timeout comes from the manifest; zero means no deadline. When the
// deadline is exceeded the context is cancelled and the handler should
// return context.DeadlineExceeded.
func Timeout(timeout time.Duration) Middleware {
	return func(ctx context.Context, _ *metadata.Metadata, next Handler) ([]byte, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
