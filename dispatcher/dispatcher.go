// Package dispatcher runs the scheduling loop: it pops queued task ids,
// claims them with a compare-and-set transition, hands them to workers,
// and arms one timeout timer per in-flight task. It also requeues
// RETRYING tasks once their backoff delay elapses.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/taskgrid/taskgrid/backoff"
	"github.com/taskgrid/taskgrid/control"
	"github.com/taskgrid/taskgrid/hook"
	"github.com/taskgrid/taskgrid/queue"
	"github.com/taskgrid/taskgrid/task"
	"github.com/taskgrid/taskgrid/worker"
)

// inflight tracks one dispatched task: its timeout timer and the cancel
// function that tells the worker to abandon execution.
type inflight struct {
	timer  *time.Timer
	cancel context.CancelFunc
}

// Dispatcher owns the dispatch loop.
type Dispatcher struct {
	store      task.Store
	queue      *queue.Queue
	controller *control.Controller
	pool       *worker.Pool
	executor   *worker.Executor
	hooks      *hook.Registry
	logger     *slog.Logger

	// interval is the loop tick; pause/resume and config changes are
	// observed within one tick.
	interval time.Duration
	// bo overrides the constant retry delay from config when set.
	bo backoff.Strategy

	limiterMu   sync.Mutex
	limiter     *rate.Limiter
	limiterRate float64

	activeMu sync.Mutex
	active   map[string]*inflight

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithInterval sets the loop tick.
func WithInterval(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.interval = d }
}

// WithBackoff replaces the constant config retry delay with a strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(dp *Dispatcher) { dp.bo = s }
}

// New creates a Dispatcher.
func New(
	store task.Store,
	q *queue.Queue,
	controller *control.Controller,
	pool *worker.Pool,
	executor *worker.Executor,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		store:      store,
		queue:      q,
		controller: controller,
		pool:       pool,
		executor:   executor,
		hooks:      hooks,
		logger:     logger,
		interval:   50 * time.Millisecond,
		active:     make(map[string]*inflight),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the dispatch loop. It returns immediately.
func (d *Dispatcher) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	d.running = true

	d.wg.Add(1)
	go d.loop()
	return nil
}

// Stop halts the loop and waits for in-flight executions. If the context
// expires first, in-flight executions are cancelled and their tasks are
// left for the timeout/failover paths to resolve.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped gracefully")
	case <-ctx.Done():
		d.logger.Warn("dispatcher shutdown timed out, cancelling in-flight tasks")
		d.cancelAll()
		<-done
	}
	return nil
}

// Abort cancels the in-flight execution of a task, if any. Best-effort:
// the authoritative state change is the caller's CAS, this only tells the
// worker to stop burning cycles.
func (d *Dispatcher) Abort(taskID string) {
	d.activeMu.Lock()
	entry, ok := d.active[taskID]
	d.activeMu.Unlock()
	if ok {
		entry.cancel()
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.cycle(context.Background())
		}
	}
}

// cycle reads one controller snapshot and acts on it: requeue due
// retries, then dispatch queued tasks while workers have capacity.
func (d *Dispatcher) cycle(ctx context.Context) {
	snap := d.controller.Snapshot()

	d.requeueDueRetries(ctx, snap)

	if !snap.Running {
		// Paused: no new assignments. In-flight timers and completions
		// keep running untouched.
		return
	}

	limiter := d.limiterFor(snap.DispatchRate)

	for {
		if limiter != nil && !limiter.Allow() {
			return
		}

		taskID, ok := d.queue.Peek()
		if !ok {
			return
		}

		t, err := d.store.GetTask(ctx, taskID)
		if err != nil {
			// Swept or unknown; the queue entry was stale.
			d.queue.Remove(taskID)
			continue
		}
		if t.State != task.StatePending {
			// Cancelled (or otherwise moved on) while queued.
			d.queue.Remove(taskID)
			continue
		}

		w := d.pool.Select()
		if w == nil {
			// No capacity: leave the head in place so it keeps its
			// submission-order position for the next cycle.
			return
		}

		if !d.queue.Remove(taskID) {
			// Removed between peek and claim (operator cancel).
			d.pool.Release(w.ID)
			continue
		}

		if !d.claim(ctx, t, w, snap) {
			d.pool.Release(w.ID)
		}
	}
}

// claim CASes the task to PROCESSING under the worker and launches the
// execution with its timeout timer. Returns false when the claim lost.
func (d *Dispatcher) claim(ctx context.Context, t *task.Task, w *worker.Worker, snap *control.Snapshot) bool {
	now := time.Now().UTC()
	claimed, err := d.store.TransitionTask(ctx, t.ID,
		[]task.State{task.StatePending, task.StateRetrying}, task.StateProcessing,
		task.Patch{WorkerID: &w.ID, StartedAt: &now})
	if err != nil {
		d.logger.Debug("dispatch claim lost",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
		return false
	}

	d.hooks.EmitTaskDispatched(ctx, claimed)

	timeout := claimed.Timeout
	if timeout <= 0 {
		timeout = snap.DefaultTimeout
	}

	execCtx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(timeout, func() {
		d.onTimeout(claimed, cancel)
	})

	d.activeMu.Lock()
	d.active[claimed.ID] = &inflight{timer: timer, cancel: cancel}
	d.activeMu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if execErr := d.executor.Execute(execCtx, claimed); execErr != nil {
			d.logger.Debug("task execution failed",
				slog.String("task_id", claimed.ID),
				slog.String("task_type", claimed.Type),
				slog.String("error", execErr.Error()),
			)
		}

		d.activeMu.Lock()
		delete(d.active, claimed.ID)
		d.activeMu.Unlock()

		timer.Stop()
		cancel()
		d.pool.Release(w.ID)
	}()

	return true
}

// onTimeout fires when an in-flight task outlives its deadline: cancel
// the worker's context and move the task to RETRYING or FAILED. The CAS
// protects against a completion landing at the same instant.
func (d *Dispatcher) onTimeout(t *task.Task, cancel context.CancelFunc) {
	cancel()

	ctx := context.Background()
	attempt := t.RetryCount + 1

	if attempt <= t.MaxRetries {
		updated, err := d.store.TransitionTask(ctx, t.ID,
			[]task.State{task.StateProcessing}, task.StateRetrying,
			task.Patch{ClearWorker: true, RetryCount: &attempt, Error: "timeout"})
		if err != nil {
			d.logger.Debug("timeout transition lost",
				slog.String("task_id", t.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		d.hooks.EmitTaskTimedOut(ctx, updated)
		d.hooks.EmitTaskRetrying(ctx, updated, attempt)
		return
	}

	now := time.Now().UTC()
	updated, err := d.store.TransitionTask(ctx, t.ID,
		[]task.State{task.StateProcessing}, task.StateFailed,
		task.Patch{ClearWorker: true, Error: "timeout", FinishedAt: &now})
	if err != nil {
		d.logger.Debug("timeout transition lost",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	d.hooks.EmitTaskTimedOut(ctx, updated)
	d.hooks.EmitTaskFailed(ctx, updated, context.DeadlineExceeded)
}

// requeueDueRetries moves RETRYING tasks whose delay has elapsed back to
// PENDING and pushes them onto the queue.
func (d *Dispatcher) requeueDueRetries(ctx context.Context, snap *control.Snapshot) {
	retrying, err := d.store.ListTasks(ctx, task.Filter{States: []task.State{task.StateRetrying}})
	if err != nil {
		d.logger.Error("list retrying tasks", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, t := range retrying {
		if !t.WorkerID.IsNil() {
			// Still assigned: the failover or result CAS has not landed.
			continue
		}
		if now.Sub(t.UpdatedAt) < d.retryDelay(snap, t.RetryCount) {
			continue
		}

		updated, trErr := d.store.TransitionTask(ctx, t.ID,
			[]task.State{task.StateRetrying}, task.StatePending, task.Patch{})
		if trErr != nil {
			d.logger.Debug("retry requeue lost",
				slog.String("task_id", t.ID),
				slog.String("error", trErr.Error()),
			)
			continue
		}
		d.queue.Push(updated.ID, updated.Priority)
	}
}

func (d *Dispatcher) retryDelay(snap *control.Snapshot, attempt int) time.Duration {
	if d.bo != nil {
		return d.bo.Delay(attempt)
	}
	return backoff.Default(snap.RetryDelay).Delay(attempt)
}

// limiterFor returns the rate limiter for the configured dispatch rate,
// rebuilding it when the rate changed. A zero rate means unlimited.
func (d *Dispatcher) limiterFor(dispatchRate float64) *rate.Limiter {
	if dispatchRate <= 0 {
		return nil
	}

	d.limiterMu.Lock()
	defer d.limiterMu.Unlock()

	if d.limiter == nil || d.limiterRate != dispatchRate {
		burst := int(dispatchRate)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(dispatchRate), burst)
		d.limiterRate = dispatchRate
	}
	return d.limiter
}

func (d *Dispatcher) cancelAll() {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	for taskID, entry := range d.active {
		d.logger.Warn("cancelling in-flight task", slog.String("task_id", taskID))
		entry.cancel()
	}
}

// InFlight returns the ids of tasks currently executing.
func (d *Dispatcher) InFlight() []string {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()

	out := make([]string, 0, len(d.active))
	for taskID := range d.active {
		out = append(out, taskID)
	}
	return out
}
