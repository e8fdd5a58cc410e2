package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskgrid/taskgrid/hook"
	"github.com/taskgrid/taskgrid/middleware"
	"github.com/taskgrid/taskgrid/task"
)

// Executor runs a single task through middleware and the registered
// handler, then reports the outcome through the store's CAS transition.
// A late result (the task was cancelled, timed out, or failed over while
// the handler ran) loses the CAS and is discarded.
type Executor struct {
	registry *task.Registry
	store    task.Store
	hooks    *hook.Registry
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *task.Registry,
	store task.Store,
	hooks *hook.Registry,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		store:    store,
		hooks:    hooks,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs a task through the middleware chain and handler.
// On success: CAS PROCESSING→COMPLETED with the result.
// On failure with retry budget left: CAS PROCESSING→RETRYING.
// On failure with budget exhausted: CAS PROCESSING→FAILED.
// The returned error reports handler failure; a lost CAS is not an error.
func (e *Executor) Execute(ctx context.Context, t *task.Task) error {
	handler, ok := e.registry.Get(t.Type)
	if !ok {
		return e.handleFailure(ctx, t, fmt.Errorf("no handler registered for task type %q", t.Type))
	}

	start := time.Now()

	// The terminal handler that calls the registered task handler.
	terminal := func(ctx context.Context) ([]byte, error) {
		return handler(ctx, t.Payload)
	}

	result, err := e.mw(ctx, t, terminal)
	elapsed := time.Since(start)

	if err != nil {
		return e.handleFailure(ctx, t, err)
	}
	return e.handleSuccess(ctx, t, result, elapsed)
}

// handleSuccess records the result. Losing the CAS means the task reached
// a terminal state while the handler ran; the result is dropped.
func (e *Executor) handleSuccess(ctx context.Context, t *task.Task, result []byte, elapsed time.Duration) error {
	now := time.Now().UTC()
	updated, err := e.store.TransitionTask(ctx, t.ID,
		[]task.State{task.StateProcessing}, task.StateCompleted,
		task.Patch{ClearWorker: true, Result: result, FinishedAt: &now})
	if err != nil {
		e.logger.Debug("late result discarded",
			slog.String("task_id", t.ID),
			slog.String("task_type", t.Type),
			slog.String("error", err.Error()),
		)
		return nil
	}

	e.hooks.EmitTaskCompleted(ctx, updated, elapsed)
	return nil
}

// handleFailure increments the retry counter and transitions to RETRYING
// or FAILED depending on the remaining budget.
func (e *Executor) handleFailure(ctx context.Context, t *task.Task, handlerErr error) error {
	attempt := t.RetryCount + 1

	if attempt <= t.MaxRetries {
		updated, err := e.store.TransitionTask(ctx, t.ID,
			[]task.State{task.StateProcessing}, task.StateRetrying,
			task.Patch{ClearWorker: true, RetryCount: &attempt, Error: handlerErr.Error()})
		if err != nil {
			e.logger.Debug("late failure discarded",
				slog.String("task_id", t.ID),
				slog.String("error", err.Error()),
			)
			return nil
		}

		e.hooks.EmitTaskRetrying(ctx, updated, attempt)
		e.logger.Info("task scheduled for retry",
			slog.String("task_id", t.ID),
			slog.String("task_type", t.Type),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", t.MaxRetries),
		)
		return handlerErr
	}

	now := time.Now().UTC()
	updated, err := e.store.TransitionTask(ctx, t.ID,
		[]task.State{task.StateProcessing}, task.StateFailed,
		task.Patch{ClearWorker: true, Error: handlerErr.Error(), FinishedAt: &now})
	if err != nil {
		e.logger.Debug("late failure discarded",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	e.hooks.EmitTaskFailed(ctx, updated, handlerErr)
	e.logger.Warn("task failed after exhausting retries",
		slog.String("task_id", t.ID),
		slog.String("task_type", t.Type),
		slog.Int("retry_count", t.RetryCount),
		slog.String("error", handlerErr.Error()),
	)
	return handlerErr
}
