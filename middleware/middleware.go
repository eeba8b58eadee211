package middleware

import (
	"context"

	"github.com/Theauxm/manifold/metadata"
)

// Handler is the terminal function that runs the workflow and returns
// its JSON-encoded output.
type Handler func(ctx context.Context) ([]byte, error)

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the execution record being driven, and the next
// handler to call.
type Middleware func(ctx context.Context, md *metadata.Metadata, next Handler) ([]byte, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, md *metadata.Metadata, next Handler) ([]byte, error) {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) ([]byte, error) {
				return mw(ctx, md, prev)
			}
		}
		return h(ctx)
	}
}
