package task

import (
	"time"

	"github.com/taskgrid/taskgrid"
	"github.com/taskgrid/taskgrid/id"
)

// State represents the lifecycle state of a task.
type State string

const (
	// StatePending means the task is queued, waiting for dispatch.
	StatePending State = "pending"
	// StateProcessing means a worker is currently executing the task.
	StateProcessing State = "processing"
	// StateCompleted means the task finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the task failed and will not be retried.
	StateFailed State = "failed"
	// StateRetrying means the task failed but still has retry budget.
	StateRetrying State = "retrying"
	// StateCancelled means the task was explicitly cancelled.
	StateCancelled State = "cancelled"
)

// Terminal reports whether s accepts no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// transitions is the full state machine. A transition not listed here
// fails with ErrInvalidTransition regardless of the CAS expected-state
// check.
var transitions = map[State]map[State]struct{}{
	StatePending: {
		StateProcessing: {},
		StateCancelled:  {},
	},
	StateProcessing: {
		StateCompleted: {},
		StateFailed:    {},
		StateRetrying:  {},
		StateCancelled: {},
	},
	StateRetrying: {
		StatePending:    {},
		StateProcessing: {},
		StateFailed:     {},
		StateCancelled:  {},
	},
}

// ValidTransition reports whether the state machine permits from → to.
func ValidTransition(from, to State) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Task represents a unit of work tracked by the control plane.
//
// A task is owned exclusively by the Store. Other components reference it
// by id and request mutations through the Store's transition API; the
// copies they receive are theirs to read, never a window into store state.
type Task struct {
	taskgrid.Entity

	// ID is the caller-supplied opaque identifier, unique per task.
	ID string `json:"id"`
	// Type is the routing tag that selects the registered handler.
	Type string `json:"type"`
	// Payload is caller-owned opaque bytes; the control plane never
	// inspects or mutates it.
	Payload []byte `json:"payload,omitempty"`
	// Priority orders dispatch: higher values dispatch first.
	Priority int `json:"priority"`
	// Timeout bounds a single execution attempt. Zero means the
	// system default applies.
	Timeout time.Duration `json:"timeout,omitempty"`

	State      State `json:"state"`
	MaxRetries int   `json:"max_retries"`
	RetryCount int   `json:"retry_count"`

	// WorkerID is set only while the task is PROCESSING or RETRYING.
	WorkerID id.WorkerID `json:"worker_id,omitempty"`
	// Result is set only on COMPLETED.
	Result []byte `json:"result,omitempty"`
	// Error is set only on FAILED and CANCELLED.
	Error string `json:"error,omitempty"`

	// EnqueuedAt is when the task last entered the dispatch queue.
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
