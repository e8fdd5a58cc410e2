package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/taskgrid/taskgrid/task"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace, so a bad
// handler fails its task instead of taking the process down.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) (result []byte, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("task handler panicked",
					slog.String("task_id", t.ID),
					slog.String("task_type", t.Type),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				result = nil
				retErr = fmt.Errorf("panic in task %s: %v", t.ID, r)
			}
		}()
		return next(ctx)
	}
}
