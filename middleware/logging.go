package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/Theauxm/manifold/metadata"
)

// Logging returns middleware that logs workflow start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, md *metadata.Metadata, next Handler) ([]byte, error) {
		logger.Info("workflow started",
			slog.String("workflow", md.Name),
			slog.String("metadata_id", md.ID.String()),
		)

		start := time.Now()
		out, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("workflow failed",
				slog.String("workflow", md.Name),
				slog.String("metadata_id", md.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("workflow completed",
				slog.String("workflow", md.Name),
				slog.String("metadata_id", md.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return out, err
	}
}
