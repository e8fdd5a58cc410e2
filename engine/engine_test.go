package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/taskgrid/taskgrid"
	"github.com/taskgrid/taskgrid/backoff"
	"github.com/taskgrid/taskgrid/engine"
	"github.com/taskgrid/taskgrid/task"
	"github.com/taskgrid/taskgrid/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()

	cfg := taskgrid.DefaultConfig()
	cfg.DispatchInterval = 10 * time.Millisecond
	cfg.JanitorInterval = 20 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second

	opts = append([]engine.Option{
		engine.WithConfig(cfg),
		engine.WithLogger(testLogger()),
		engine.WithBackoff(backoff.Constant(10 * time.Millisecond)),
	}, opts...)

	e := engine.New(opts...)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func waitForState(t *testing.T, e *engine.Engine, taskID string, want task.State) *task.Task {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		got, err := e.GetTask(context.Background(), taskID)
		if err != nil {
			t.Fatalf("get task %s: %v", taskID, err)
		}
		if got.State == want {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("task %s state = %q, want %q", taskID, got.State, want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// -----------------------------------------------------------------------------
// Submission
// -----------------------------------------------------------------------------

func TestEngine_SubmitValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.SubmitTask(ctx, "", "email", nil); !errors.Is(err, taskgrid.ErrValidation) {
		t.Fatalf("empty id: expected ErrValidation, got %v", err)
	}
	if _, err := e.SubmitTask(ctx, "task-1", "", nil); !errors.Is(err, taskgrid.ErrValidation) {
		t.Fatalf("empty type: expected ErrValidation, got %v", err)
	}
	if _, err := e.SubmitTask(ctx, "task-1", "email", nil, task.WithPriority(-5)); !errors.Is(err, taskgrid.ErrValidation) {
		t.Fatalf("negative priority: expected ErrValidation, got %v", err)
	}

	// Rejection happens before any state mutation: the id is still free.
	if _, err := e.SubmitTask(ctx, "task-1", "email", nil); err != nil {
		t.Fatalf("submit after rejections: %v", err)
	}
}

func TestEngine_SubmitDuplicateID(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.SubmitTask(ctx, "task-1", "email", nil); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := e.SubmitTask(ctx, "task-1", "email", nil); !errors.Is(err, taskgrid.ErrDuplicateTask) {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}
}

func TestEngine_SubmitAppliesDefaults(t *testing.T) {
	e := newTestEngine(t)

	got, err := e.SubmitTask(context.Background(), "task-1", "email", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.State != task.StatePending {
		t.Fatalf("state = %q, want pending", got.State)
	}
	// System default from the controller snapshot.
	if got.MaxRetries != 3 {
		t.Fatalf("max retries = %d, want system default 3", got.MaxRetries)
	}
}

// -----------------------------------------------------------------------------
// End-to-end lifecycle
// -----------------------------------------------------------------------------

func TestEngine_TaskRunsToCompletion(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	task.RegisterDefinition(e.Registry(), &task.Definition[struct{ N int }]{
		Type: "double",
		Handler: func(_ context.Context, in struct{ N int }) (any, error) {
			return map[string]int{"doubled": in.N * 2}, nil
		},
	})

	if _, err := e.AddWorker(ctx, "host-a", 2); err != nil {
		t.Fatalf("add worker: %v", err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := e.SubmitTask(ctx, "task-1", "double", []byte(`{"N":21}`)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := waitForState(t, e, "task-1", task.StateCompleted)
	if string(got.Result) != `{"doubled":42}` {
		t.Fatalf("result = %s, want {\"doubled\":42}", got.Result)
	}

	stats := e.Hub().Stats()
	if stats["tasks_completed"] != 1 {
		t.Fatalf("completed counter = %d, want 1", stats["tasks_completed"])
	}
}

func TestEngine_CancelPendingTask(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// No workers, so the task stays pending.
	if _, err := e.SubmitTask(ctx, "task-1", "email", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := e.CancelTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.State != task.StateCancelled {
		t.Fatalf("state = %q, want cancelled", got.State)
	}

	// Cancelling again is a no-op success returning the terminal task.
	again, err := e.CancelTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if again.State != task.StateCancelled {
		t.Fatalf("second cancel state = %q, want cancelled", again.State)
	}
}

func TestEngine_CancelCompletedTaskIsNoop(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.Registry().Register("noop", func(_ context.Context, _ []byte) ([]byte, error) {
		return []byte(`"ok"`), nil
	})
	if _, err := e.AddWorker(ctx, "host-a", 1); err != nil {
		t.Fatalf("add worker: %v", err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := e.SubmitTask(ctx, "task-1", "noop", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForState(t, e, "task-1", task.StateCompleted)

	got, err := e.CancelTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("cancel after completion: %v", err)
	}
	if got.State != task.StateCompleted {
		t.Fatalf("state = %q, want completed (cancel must not rewrite terminal state)", got.State)
	}
	if string(got.Result) != `"ok"` {
		t.Fatalf("result clobbered by cancel: %s", got.Result)
	}
}

func TestEngine_CancelUnknownTask(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.CancelTask(context.Background(), "nope")
	if !errors.Is(err, taskgrid.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

// -----------------------------------------------------------------------------
// Pause / resume / config
// -----------------------------------------------------------------------------

func TestEngine_PauseResume(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.Registry().Register("noop", func(_ context.Context, _ []byte) ([]byte, error) {
		return nil, nil
	})
	if _, err := e.AddWorker(ctx, "host-a", 1); err != nil {
		t.Fatalf("add worker: %v", err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	e.Pause(ctx)
	if _, err := e.SubmitTask(ctx, "task-1", "noop", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	got, _ := e.GetTask(ctx, "task-1")
	if got.State != task.StatePending {
		t.Fatalf("state while paused = %q, want pending", got.State)
	}

	status, err := e.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Running {
		t.Fatal("status.Running = true while paused")
	}

	e.Resume(ctx)
	waitForState(t, e, "task-1", task.StateCompleted)
}

func TestEngine_UpdateConfigRejectsUnknownKey(t *testing.T) {
	e := newTestEngine(t)

	err := e.UpdateConfig(context.Background(), map[string]string{
		"max_retries": "5",
		"bogus":       "1",
	})
	if !errors.Is(err, taskgrid.ErrUnknownConfigKey) {
		t.Fatalf("expected ErrUnknownConfigKey, got %v", err)
	}
	if !errors.Is(err, taskgrid.ErrValidation) {
		t.Fatal("ErrUnknownConfigKey should wrap ErrValidation")
	}

	// The valid key in the same batch must not have been applied.
	got, _ := e.SubmitTask(context.Background(), "task-1", "email", nil)
	if got.MaxRetries != 3 {
		t.Fatalf("max retries = %d, want untouched default 3", got.MaxRetries)
	}
}

func TestEngine_UpdateConfigAffectsNewSubmissions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.UpdateConfig(ctx, map[string]string{"max_retries": "7"}); err != nil {
		t.Fatalf("update config: %v", err)
	}

	got, err := e.SubmitTask(ctx, "task-1", "email", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.MaxRetries != 7 {
		t.Fatalf("max retries = %d, want 7", got.MaxRetries)
	}
}

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

func TestEngine_StatusCountsAndQueueDepth(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for _, taskID := range []string{"task-a", "task-b", "task-c"} {
		if _, err := e.SubmitTask(ctx, taskID, "email", nil); err != nil {
			t.Fatalf("submit %s: %v", taskID, err)
		}
	}
	if _, err := e.CancelTask(ctx, "task-c"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	status, err := e.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.TaskCounts[task.StatePending] != 2 {
		t.Fatalf("pending count = %d, want 2", status.TaskCounts[task.StatePending])
	}
	if status.TaskCounts[task.StateCancelled] != 1 {
		t.Fatalf("cancelled count = %d, want 1", status.TaskCounts[task.StateCancelled])
	}
	if status.QueueDepth != 2 {
		t.Fatalf("queue depth = %d, want 2", status.QueueDepth)
	}
}

// -----------------------------------------------------------------------------
// WAL
// -----------------------------------------------------------------------------

type memLog struct {
	mu      sync.Mutex
	records []wal.Record
}

func (m *memLog) Append(_ context.Context, rec wal.Record) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *memLog) Close() error { return nil }

func (m *memLog) snapshot() []wal.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]wal.Record(nil), m.records...)
}

func TestEngine_TransitionsAppendToWAL(t *testing.T) {
	log := &memLog{}
	e := newTestEngine(t, engine.WithWAL(log))
	ctx := context.Background()

	if _, err := e.SubmitTask(ctx, "task-1", "email", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.CancelTask(ctx, "task-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	recs := log.snapshot()
	if len(recs) != 2 {
		t.Fatalf("wal records = %d, want 2 (create + cancel)", len(recs))
	}
	if recs[0].To != string(task.StatePending) {
		t.Fatalf("first record To = %q, want pending", recs[0].To)
	}
	if recs[1].From != string(task.StatePending) || recs[1].To != string(task.StateCancelled) {
		t.Fatalf("second record = %s→%s, want pending→cancelled", recs[1].From, recs[1].To)
	}
}

// -----------------------------------------------------------------------------
// Retention janitor
// -----------------------------------------------------------------------------

func TestEngine_ConfiguredRetentionWindowHonored(t *testing.T) {
	cfg := taskgrid.DefaultConfig()
	cfg.DispatchInterval = 10 * time.Millisecond
	cfg.JanitorInterval = 20 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.RetentionWindow = time.Millisecond

	// The static config window must reach the janitor without any
	// runtime UpdateConfig call.
	e := newTestEngine(t, engine.WithConfig(cfg))
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.SubmitTask(ctx, "task-1", "email", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.CancelTask(ctx, "task-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		_, err := e.GetTask(ctx, "task-1")
		if errors.Is(err, taskgrid.ErrTaskNotFound) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("configured retention window was not honored")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestEngine_JanitorSweepsTerminalTasks(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.UpdateConfig(ctx, map[string]string{"retention_window": "1ms"}); err != nil {
		t.Fatalf("update config: %v", err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := e.SubmitTask(ctx, "task-1", "email", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.CancelTask(ctx, "task-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		_, err := e.GetTask(ctx, "task-1")
		if errors.Is(err, taskgrid.ErrTaskNotFound) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("janitor never swept the terminal task")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
