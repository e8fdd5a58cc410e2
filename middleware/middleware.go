// Package middleware provides composable middleware for task execution.
// Middleware wraps handler calls synchronously and can modify execution
// (recover from panics, enforce deadlines, log, record metrics, trace).
package middleware

import (
	"context"

	"github.com/taskgrid/taskgrid/task"
)

// Handler is the terminal function that executes task logic and returns
// the result payload.
type Handler func(ctx context.Context) ([]byte, error)

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the task being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, t *task.Task, next Handler) ([]byte, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recovery, timeout) executes as:
//
//	logging → recovery → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) ([]byte, error) {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) ([]byte, error) {
				return mw(ctx, t, prev)
			}
		}
		return h(ctx)
	}
}
