package obs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskgrid/taskgrid/hook"
	"github.com/taskgrid/taskgrid/id"
	"github.com/taskgrid/taskgrid/task"
)

// Compile-time interface checks.
var (
	_ hook.Hook           = (*Hub)(nil)
	_ hook.TaskSubmitted  = (*Hub)(nil)
	_ hook.TaskDispatched = (*Hub)(nil)
	_ hook.TaskCompleted  = (*Hub)(nil)
	_ hook.TaskFailed     = (*Hub)(nil)
	_ hook.TaskRetrying   = (*Hub)(nil)
	_ hook.TaskCancelled  = (*Hub)(nil)
	_ hook.TaskTimedOut   = (*Hub)(nil)
	_ hook.WorkerJoined   = (*Hub)(nil)
	_ hook.WorkerLost     = (*Hub)(nil)
)

// Counter names exposed via Stats.
const (
	CounterSubmitted  = "tasks_submitted"
	CounterDispatched = "tasks_dispatched"
	CounterCompleted  = "tasks_completed"
	CounterFailed     = "tasks_failed"
	CounterRetried    = "tasks_retried"
	CounterCancelled  = "tasks_cancelled"
	CounterTimedOut   = "tasks_timed_out"
)

// Name implements hook.Hook.
func (h *Hub) Name() string { return "observability-hub" }

// OnTaskSubmitted implements hook.TaskSubmitted.
func (h *Hub) OnTaskSubmitted(_ context.Context, t *task.Task) error {
	h.incr(CounterSubmitted)
	h.RecordMetric("task.submitted", map[string]float64{
		"priority": float64(t.Priority),
	}, time.Now().UTC())
	h.RecordLog(slog.LevelInfo, "taskstore", fmt.Sprintf("task %s submitted (type=%s priority=%d)", t.ID, t.Type, t.Priority))
	return nil
}

// OnTaskDispatched implements hook.TaskDispatched.
func (h *Hub) OnTaskDispatched(_ context.Context, t *task.Task) error {
	h.incr(CounterDispatched)
	h.RecordMetric("task.dispatched", map[string]float64{
		"queue_wait_ms": float64(time.Since(t.EnqueuedAt).Milliseconds()),
	}, time.Now().UTC())
	h.RecordLog(slog.LevelInfo, "dispatcher", fmt.Sprintf("task %s dispatched to %s", t.ID, t.WorkerID))
	return nil
}

// OnTaskCompleted implements hook.TaskCompleted.
func (h *Hub) OnTaskCompleted(_ context.Context, t *task.Task, elapsed time.Duration) error {
	h.incr(CounterCompleted)
	h.RecordMetric("task.completed", map[string]float64{
		"elapsed_ms": float64(elapsed.Milliseconds()),
	}, time.Now().UTC())
	h.RecordLog(slog.LevelInfo, "worker", fmt.Sprintf("task %s completed in %s", t.ID, elapsed))
	return nil
}

// OnTaskFailed implements hook.TaskFailed.
func (h *Hub) OnTaskFailed(_ context.Context, t *task.Task, err error) error {
	h.incr(CounterFailed)
	h.RecordMetric("task.failed", map[string]float64{
		"retries": float64(t.RetryCount),
	}, time.Now().UTC())
	h.RecordLog(slog.LevelError, "worker", fmt.Sprintf("task %s failed: %v", t.ID, err))
	return nil
}

// OnTaskRetrying implements hook.TaskRetrying.
func (h *Hub) OnTaskRetrying(_ context.Context, t *task.Task, attempt int) error {
	h.incr(CounterRetried)
	h.RecordMetric("task.retrying", map[string]float64{
		"attempt": float64(attempt),
	}, time.Now().UTC())
	h.RecordLog(slog.LevelWarn, "dispatcher", fmt.Sprintf("task %s retrying (attempt %d/%d)", t.ID, attempt, t.MaxRetries))
	return nil
}

// OnTaskCancelled implements hook.TaskCancelled.
func (h *Hub) OnTaskCancelled(_ context.Context, t *task.Task) error {
	h.incr(CounterCancelled)
	h.RecordLog(slog.LevelInfo, "taskstore", fmt.Sprintf("task %s cancelled", t.ID))
	return nil
}

// OnTaskTimedOut implements hook.TaskTimedOut.
func (h *Hub) OnTaskTimedOut(_ context.Context, t *task.Task) error {
	h.incr(CounterTimedOut)
	h.RecordMetric("task.timeout", map[string]float64{
		"timeout_ms": float64(t.Timeout.Milliseconds()),
	}, time.Now().UTC())
	h.RecordLog(slog.LevelWarn, "dispatcher", fmt.Sprintf("task %s timed out on %s", t.ID, t.WorkerID))
	return nil
}

// OnWorkerJoined implements hook.WorkerJoined.
func (h *Hub) OnWorkerJoined(_ context.Context, workerID id.WorkerID, capacity int) error {
	h.RecordLog(slog.LevelInfo, "pool", fmt.Sprintf("worker %s joined (capacity=%d)", workerID, capacity))
	return nil
}

// OnWorkerLost implements hook.WorkerLost.
func (h *Hub) OnWorkerLost(_ context.Context, workerID id.WorkerID) error {
	h.RecordLog(slog.LevelWarn, "pool", fmt.Sprintf("worker %s lost", workerID))
	return nil
}
