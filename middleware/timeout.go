package middleware

import (
	"context"
	"log/slog"

	"github.com/taskgrid/taskgrid/task"
)

// Timeout returns middleware that enforces a per-task execution deadline.
// If the task has a non-zero Timeout, a context.WithTimeout wraps the
// handler call. When the deadline is exceeded the context is cancelled
// and the handler should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) ([]byte, error) {
		if t.Timeout > 0 {
			logger.Debug("task deadline set",
				slog.String("task_id", t.ID),
				slog.Duration("timeout", t.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
