package task

import (
	"context"
	"time"

	"github.com/taskgrid/taskgrid/id"
)

// Patch carries the fields a transition may set alongside the new state.
// Nil pointer fields are left untouched.
type Patch struct {
	// WorkerID assigns or clears the worker. ClearWorker takes precedence.
	WorkerID    *id.WorkerID
	ClearWorker bool

	// Result is set on the COMPLETED transition.
	Result []byte

	// Error is set on FAILED and CANCELLED transitions.
	Error string

	// RetryCount replaces the retry counter (used when requeuing).
	RetryCount *int

	// StartedAt / FinishedAt stamp attempt boundaries.
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Filter controls task list queries. Zero fields match everything.
type Filter struct {
	// Types restricts to tasks whose Type is in the set.
	Types []string
	// States restricts to tasks whose State is in the set.
	States []State
	// Since restricts to tasks created at or after the given time.
	Since time.Time
	// Limit caps the number of tasks returned. Zero means no limit.
	Limit int
}

// CountOpts controls task count queries.
type CountOpts struct {
	// State filters by task state. Empty means all states.
	State State
}

// Store defines the persistence contract for tasks. It is the single
// source of truth: TransitionTask is the sole mutation path after
// creation, and implementations must serialize concurrent transitions on
// the same task id while letting transitions on different ids proceed
// independently.
type Store interface {
	// CreateTask persists a new task. Fails with ErrDuplicateTask if the
	// id is already present.
	CreateTask(ctx context.Context, t *Task) error

	// TransitionTask performs a compare-and-set state change: it succeeds
	// only if the task's current state is one of from AND the state
	// machine permits current → to. It atomically applies the state, the
	// patch fields, and UpdatedAt, returning a copy of the updated task.
	//
	// Fails with ErrTaskNotFound, ErrStaleTransition (current state not
	// in from), or ErrInvalidTransition (path outside the state machine,
	// including any transition out of a terminal state).
	TransitionTask(ctx context.Context, taskID string, from []State, to State, patch Patch) (*Task, error)

	// GetTask retrieves a copy of a task by id.
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// ListTasks returns copies of tasks matching the filter, ordered by
	// creation time descending (newest first).
	ListTasks(ctx context.Context, f Filter) ([]*Task, error)

	// CountTasks returns the number of tasks matching the options.
	CountTasks(ctx context.Context, opts CountOpts) (int64, error)

	// ListByWorker returns copies of non-terminal tasks assigned to the
	// given worker.
	ListByWorker(ctx context.Context, workerID id.WorkerID) ([]*Task, error)

	// SweepTerminal deletes terminal tasks whose last update is older
	// than the retention window and returns how many were removed.
	SweepTerminal(ctx context.Context, olderThan time.Duration) (int64, error)

	// Close releases store resources.
	Close() error
}
