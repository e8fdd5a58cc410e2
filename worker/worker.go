// Package worker manages the execution side of the control plane: a Pool
// of registered workers with capacity and liveness tracking, and an
// Executor that runs dispatched tasks through middleware and reports
// results back through the store's transition API.
package worker

import (
	"time"

	"github.com/taskgrid/taskgrid"
	"github.com/taskgrid/taskgrid/id"
)

// State represents the lifecycle state of a worker.
type State string

const (
	// StateActive means the worker accepts new tasks.
	StateActive State = "active"
	// StateDraining means the worker finishes in-flight tasks but
	// accepts no new ones.
	StateDraining State = "draining"
	// StateDead means the worker missed its liveness threshold and its
	// in-flight tasks have been failed over.
	StateDead State = "dead"
)

// Worker is a registered execution slot in the pool.
type Worker struct {
	taskgrid.Entity

	ID       id.WorkerID `json:"id"`
	Hostname string      `json:"hostname,omitempty"`

	// Capacity is the maximum number of concurrent tasks.
	Capacity int `json:"capacity"`
	// Load is the number of tasks currently assigned.
	Load int `json:"load"`

	// LastSeen is the most recent heartbeat.
	LastSeen time.Time `json:"last_seen"`
	State    State     `json:"state"`
}

// Spare returns how many more tasks the worker can accept. Only active
// workers have spare capacity.
func (w *Worker) Spare() int {
	if w.State != StateActive {
		return 0
	}
	return w.Capacity - w.Load
}
