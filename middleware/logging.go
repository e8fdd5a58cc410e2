package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskgrid/taskgrid/task"
)

// Logging returns middleware that logs task start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) ([]byte, error) {
		logger.Info("task started",
			slog.String("task_id", t.ID),
			slog.String("task_type", t.Type),
			slog.String("worker_id", t.WorkerID.String()),
		)

		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("task failed",
				slog.String("task_id", t.ID),
				slog.String("task_type", t.Type),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("task completed",
				slog.String("task_id", t.ID),
				slog.String("task_type", t.Type),
				slog.Duration("elapsed", elapsed),
			)
		}

		return result, err
	}
}
