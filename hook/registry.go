package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskgrid/taskgrid/id"
	"github.com/taskgrid/taskgrid/task"
)

// Named entry types pair a hook implementation with the hook name
// captured at registration time. This avoids type-asserting back to
// Hook inside the emit methods.
type taskSubmittedEntry struct {
	name string
	hook TaskSubmitted
}

type taskDispatchedEntry struct {
	name string
	hook TaskDispatched
}

type taskCompletedEntry struct {
	name string
	hook TaskCompleted
}

type taskFailedEntry struct {
	name string
	hook TaskFailed
}

type taskRetryingEntry struct {
	name string
	hook TaskRetrying
}

type taskCancelledEntry struct {
	name string
	hook TaskCancelled
}

type taskTimedOutEntry struct {
	name string
	hook TaskTimedOut
}

type workerJoinedEntry struct {
	name string
	hook WorkerJoined
}

type workerLostEntry struct {
	name string
	hook WorkerLost
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant event.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	// Type-cached slices for each lifecycle event.
	taskSubmitted  []taskSubmittedEntry
	taskDispatched []taskDispatchedEntry
	taskCompleted  []taskCompletedEntry
	taskFailed     []taskFailedEntry
	taskRetrying   []taskRetryingEntry
	taskCancelled  []taskCancelledEntry
	taskTimedOut   []taskTimedOutEntry
	workerJoined   []workerJoinedEntry
	workerLost     []workerLostEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if e, ok := h.(TaskSubmitted); ok {
		r.taskSubmitted = append(r.taskSubmitted, taskSubmittedEntry{name, e})
	}
	if e, ok := h.(TaskDispatched); ok {
		r.taskDispatched = append(r.taskDispatched, taskDispatchedEntry{name, e})
	}
	if e, ok := h.(TaskCompleted); ok {
		r.taskCompleted = append(r.taskCompleted, taskCompletedEntry{name, e})
	}
	if e, ok := h.(TaskFailed); ok {
		r.taskFailed = append(r.taskFailed, taskFailedEntry{name, e})
	}
	if e, ok := h.(TaskRetrying); ok {
		r.taskRetrying = append(r.taskRetrying, taskRetryingEntry{name, e})
	}
	if e, ok := h.(TaskCancelled); ok {
		r.taskCancelled = append(r.taskCancelled, taskCancelledEntry{name, e})
	}
	if e, ok := h.(TaskTimedOut); ok {
		r.taskTimedOut = append(r.taskTimedOut, taskTimedOutEntry{name, e})
	}
	if e, ok := h.(WorkerJoined); ok {
		r.workerJoined = append(r.workerJoined, workerJoinedEntry{name, e})
	}
	if e, ok := h.(WorkerLost); ok {
		r.workerLost = append(r.workerLost, workerLostEntry{name, e})
	}
	if e, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, e})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// EmitTaskSubmitted notifies all hooks that implement TaskSubmitted.
func (r *Registry) EmitTaskSubmitted(ctx context.Context, t *task.Task) {
	for _, e := range r.taskSubmitted {
		if err := e.hook.OnTaskSubmitted(ctx, t); err != nil {
			r.logHookError("OnTaskSubmitted", e.name, err)
		}
	}
}

// EmitTaskDispatched notifies all hooks that implement TaskDispatched.
func (r *Registry) EmitTaskDispatched(ctx context.Context, t *task.Task) {
	for _, e := range r.taskDispatched {
		if err := e.hook.OnTaskDispatched(ctx, t); err != nil {
			r.logHookError("OnTaskDispatched", e.name, err)
		}
	}
}

// EmitTaskCompleted notifies all hooks that implement TaskCompleted.
func (r *Registry) EmitTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) {
	for _, e := range r.taskCompleted {
		if err := e.hook.OnTaskCompleted(ctx, t, elapsed); err != nil {
			r.logHookError("OnTaskCompleted", e.name, err)
		}
	}
}

// EmitTaskFailed notifies all hooks that implement TaskFailed.
func (r *Registry) EmitTaskFailed(ctx context.Context, t *task.Task, taskErr error) {
	for _, e := range r.taskFailed {
		if err := e.hook.OnTaskFailed(ctx, t, taskErr); err != nil {
			r.logHookError("OnTaskFailed", e.name, err)
		}
	}
}

// EmitTaskRetrying notifies all hooks that implement TaskRetrying.
func (r *Registry) EmitTaskRetrying(ctx context.Context, t *task.Task, attempt int) {
	for _, e := range r.taskRetrying {
		if err := e.hook.OnTaskRetrying(ctx, t, attempt); err != nil {
			r.logHookError("OnTaskRetrying", e.name, err)
		}
	}
}

// EmitTaskCancelled notifies all hooks that implement TaskCancelled.
func (r *Registry) EmitTaskCancelled(ctx context.Context, t *task.Task) {
	for _, e := range r.taskCancelled {
		if err := e.hook.OnTaskCancelled(ctx, t); err != nil {
			r.logHookError("OnTaskCancelled", e.name, err)
		}
	}
}

// EmitTaskTimedOut notifies all hooks that implement TaskTimedOut.
func (r *Registry) EmitTaskTimedOut(ctx context.Context, t *task.Task) {
	for _, e := range r.taskTimedOut {
		if err := e.hook.OnTaskTimedOut(ctx, t); err != nil {
			r.logHookError("OnTaskTimedOut", e.name, err)
		}
	}
}

// EmitWorkerJoined notifies all hooks that implement WorkerJoined.
func (r *Registry) EmitWorkerJoined(ctx context.Context, workerID id.WorkerID, capacity int) {
	for _, e := range r.workerJoined {
		if err := e.hook.OnWorkerJoined(ctx, workerID, capacity); err != nil {
			r.logHookError("OnWorkerJoined", e.name, err)
		}
	}
}

// EmitWorkerLost notifies all hooks that implement WorkerLost.
func (r *Registry) EmitWorkerLost(ctx context.Context, workerID id.WorkerID) {
	for _, e := range r.workerLost {
		if err := e.hook.OnWorkerLost(ctx, workerID); err != nil {
			r.logHookError("OnWorkerLost", e.name, err)
		}
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(event, hookName string, err error) {
	r.logger.Warn("lifecycle hook error",
		slog.String("event", event),
		slog.String("hook", hookName),
		slog.String("error", err.Error()),
	)
}
