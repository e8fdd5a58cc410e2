package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskgrid/taskgrid"
	"github.com/taskgrid/taskgrid/id"
	"github.com/taskgrid/taskgrid/task"
	"github.com/taskgrid/taskgrid/worker"
)

// SubmitTask validates and accepts a new task, queues it for dispatch,
// and returns a copy of the stored record.
func (e *Engine) SubmitTask(ctx context.Context, taskID, taskType string, payload []byte, opts ...task.Option) (*task.Task, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: task id must not be empty", taskgrid.ErrValidation)
	}
	if taskType == "" {
		return nil, fmt.Errorf("%w: task type must not be empty", taskgrid.ErrValidation)
	}

	o := task.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Priority < 0 {
		return nil, fmt.Errorf("%w: priority must be non-negative, got %d", taskgrid.ErrValidation, o.Priority)
	}

	maxRetries := o.MaxRetries
	if maxRetries < 0 {
		maxRetries = e.controller.Snapshot().MaxRetries
	}

	t := &task.Task{
		Entity:     taskgrid.NewEntity(),
		ID:         taskID,
		Type:       taskType,
		Payload:    payload,
		Priority:   o.Priority,
		Timeout:    o.Timeout,
		State:      task.StatePending,
		MaxRetries: maxRetries,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := e.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}

	e.queue.Push(t.ID, t.Priority)
	e.hooks.EmitTaskSubmitted(ctx, t)

	cp := *t
	return &cp, nil
}

// CancelTask moves a task to CANCELLED. Cancelling a task that already
// reached a terminal state is a no-op success: the caller gets the task
// as it ended.
func (e *Engine) CancelTask(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.State.Terminal() {
		return t, nil
	}

	now := time.Now().UTC()
	cancelled, err := e.store.TransitionTask(ctx, taskID,
		[]task.State{task.StatePending, task.StateProcessing, task.StateRetrying},
		task.StateCancelled,
		task.Patch{ClearWorker: true, Error: "cancelled", FinishedAt: &now})
	if err != nil {
		// A completion or failure may have landed between the read and
		// the CAS. If the task is terminal now, cancel is still a no-op
		// success.
		latest, getErr := e.store.GetTask(ctx, taskID)
		if getErr == nil && latest.State.Terminal() {
			return latest, nil
		}
		return nil, err
	}

	// Drop it from the queue if still waiting, and tell a worker that may
	// be executing it to stop. Both best-effort: the CAS above is the
	// authoritative change, a late result loses its own CAS.
	e.queue.Remove(taskID)
	e.dispatcher.Abort(taskID)

	e.hooks.EmitTaskCancelled(ctx, cancelled)
	return cancelled, nil
}

// GetTask returns a copy of a task.
func (e *Engine) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	return e.store.GetTask(ctx, taskID)
}

// ListTasks returns tasks matching the filter, newest first.
func (e *Engine) ListTasks(ctx context.Context, f task.Filter) ([]*task.Task, error) {
	return e.store.ListTasks(ctx, f)
}

// Pause stops new dispatch decisions. Idempotent.
func (e *Engine) Pause(_ context.Context) {
	e.controller.Pause()
	e.logger.Info("system paused")
}

// Resume re-enables dispatch. Idempotent.
func (e *Engine) Resume(_ context.Context) {
	e.controller.Resume()
	e.logger.Info("system resumed")
}

// UpdateConfig applies runtime config changes all-or-nothing.
func (e *Engine) UpdateConfig(_ context.Context, changes map[string]string) error {
	if err := e.controller.UpdateConfig(changes); err != nil {
		return err
	}
	e.logger.Info("config updated", slog.Int("keys", len(changes)))
	return nil
}

// AddWorker registers a worker.
func (e *Engine) AddWorker(ctx context.Context, hostname string, capacity int) (*worker.Worker, error) {
	return e.pool.AddWorker(ctx, hostname, capacity)
}

// RemoveWorker deregisters a worker and fails over its tasks.
func (e *Engine) RemoveWorker(ctx context.Context, workerID id.WorkerID) error {
	return e.pool.RemoveWorker(ctx, workerID)
}

// Heartbeat records worker liveness.
func (e *Engine) Heartbeat(ctx context.Context, workerID id.WorkerID) error {
	return e.pool.Heartbeat(ctx, workerID)
}

// Status is the operator-facing system summary.
type Status struct {
	Running    bool                 `json:"running"`
	Uptime     time.Duration        `json:"uptime"`
	QueueDepth int                  `json:"queue_depth"`
	TaskCounts map[task.State]int64 `json:"task_counts"`
	Workers    []*worker.Worker     `json:"workers"`
	Config     map[string]string    `json:"config"`
	Counters   map[string]int64     `json:"counters"`
}

// Status assembles the current system view: pause state, per-state task
// counts, queue depth, workers, runtime config, and lifecycle counters.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	snap := e.controller.Snapshot()

	counts := make(map[task.State]int64)
	for _, s := range []task.State{
		task.StatePending, task.StateProcessing, task.StateCompleted,
		task.StateFailed, task.StateRetrying, task.StateCancelled,
	} {
		n, err := e.store.CountTasks(ctx, task.CountOpts{State: s})
		if err != nil {
			return nil, err
		}
		if n > 0 {
			counts[s] = n
		}
	}

	var uptime time.Duration
	if !e.startedAt.IsZero() {
		uptime = time.Since(e.startedAt)
	}

	cfg := make(map[string]string, len(snap.Raw))
	for k, v := range snap.Raw {
		cfg[k] = v
	}

	return &Status{
		Running:    snap.Running,
		Uptime:     uptime,
		QueueDepth: e.queue.Len(),
		TaskCounts: counts,
		Workers:    e.pool.Workers(),
		Config:     cfg,
		Counters:   e.hub.Stats(),
	}, nil
}
