// Package hook defines the lifecycle hook system for the control plane.
// Hooks are notified of lifecycle events (task submitted, dispatched,
// completed, failed, etc.) and can react to them — metrics, logging,
// write-ahead logging, stream fan-out.
//
// Each lifecycle event is a separate interface so hooks opt in only to
// the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/taskgrid/taskgrid/id"
	"github.com/taskgrid/taskgrid/task"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// TaskSubmitted is called after a task is accepted and queued.
type TaskSubmitted interface {
	OnTaskSubmitted(ctx context.Context, t *task.Task) error
}

// TaskDispatched is called when the dispatcher assigns a task to a worker.
type TaskDispatched interface {
	OnTaskDispatched(ctx context.Context, t *task.Task) error
}

// TaskCompleted is called after a task finishes successfully.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error
}

// TaskFailed is called when a task fails terminally (no more retries).
type TaskFailed interface {
	OnTaskFailed(ctx context.Context, t *task.Task, err error) error
}

// TaskRetrying is called when a task fails but is scheduled for retry.
type TaskRetrying interface {
	OnTaskRetrying(ctx context.Context, t *task.Task, attempt int) error
}

// TaskCancelled is called when a task is explicitly cancelled.
type TaskCancelled interface {
	OnTaskCancelled(ctx context.Context, t *task.Task) error
}

// TaskTimedOut is called when an in-flight task hits its deadline.
type TaskTimedOut interface {
	OnTaskTimedOut(ctx context.Context, t *task.Task) error
}

// WorkerJoined is called when a worker registers with the pool.
type WorkerJoined interface {
	OnWorkerJoined(ctx context.Context, workerID id.WorkerID, capacity int) error
}

// WorkerLost is called when a worker is removed or marked dead.
type WorkerLost interface {
	OnWorkerLost(ctx context.Context, workerID id.WorkerID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
