package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs the start and outcome of every
// attempt.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) (any, error) {
		logger.Debug("step attempt started",
			slog.String("workflow_id", inv.WorkflowID),
			slog.String("run_id", inv.RunID.String()),
			slog.String("step_id", inv.StepID),
			slog.String("target", inv.Target),
			slog.Int("attempt", inv.Attempt),
		)

		start := time.Now()
		out, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("step attempt failed",
				slog.String("workflow_id", inv.WorkflowID),
				slog.String("step_id", inv.StepID),
				slog.String("target", inv.Target),
				slog.Int("attempt", inv.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("step attempt completed",
				slog.String("workflow_id", inv.WorkflowID),
				slog.String("step_id", inv.StepID),
				slog.String("target", inv.Target),
				slog.Int("attempt", inv.Attempt),
				slog.Duration("elapsed", elapsed),
			)
		}

		return out, err
	}
}
