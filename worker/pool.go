package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskgrid/taskgrid"
	"github.com/taskgrid/taskgrid/hook"
	"github.com/taskgrid/taskgrid/id"
	"github.com/taskgrid/taskgrid/task"
)

// Pool tracks registered workers: capacity, load, heartbeat liveness.
// Workers are added and removed by external scaling events; the pool's
// reaper marks silent workers dead and fails over their in-flight tasks.
type Pool struct {
	store  task.Store
	hooks  *hook.Registry
	logger *slog.Logger

	// Liveness configuration.
	livenessThreshold time.Duration
	reapInterval      time.Duration

	mu      sync.Mutex
	workers map[string]*Worker
	order   []string // registration order, round-robin cursor below
	next    int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLivenessThreshold sets how long a worker may go without a heartbeat
// before the reaper marks it dead.
func WithLivenessThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.livenessThreshold = d }
}

// WithReapInterval sets how often the reaper checks worker liveness.
func WithReapInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.reapInterval = d }
}

// NewPool creates a worker pool.
func NewPool(store task.Store, hooks *hook.Registry, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		store:             store,
		hooks:             hooks,
		logger:            logger,
		livenessThreshold: 30 * time.Second,
		reapInterval:      5 * time.Second,
		workers:           make(map[string]*Worker),
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddWorker registers a worker with the given capacity and returns a copy
// of the new record.
func (p *Pool) AddWorker(ctx context.Context, hostname string, capacity int) (*Worker, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: worker capacity must be positive, got %d", taskgrid.ErrValidation, capacity)
	}

	w := &Worker{
		Entity:   taskgrid.NewEntity(),
		ID:       id.NewWorkerID(),
		Hostname: hostname,
		Capacity: capacity,
		LastSeen: time.Now().UTC(),
		State:    StateActive,
	}

	p.mu.Lock()
	key := w.ID.String()
	p.workers[key] = w
	p.order = append(p.order, key)
	p.mu.Unlock()

	p.logger.Info("worker joined",
		slog.String("worker_id", key),
		slog.String("hostname", hostname),
		slog.Int("capacity", capacity),
	)
	p.hooks.EmitWorkerJoined(ctx, w.ID, capacity)

	cp := *w
	return &cp, nil
}

// RemoveWorker deregisters a worker and fails over any tasks still
// assigned to it.
func (p *Pool) RemoveWorker(ctx context.Context, workerID id.WorkerID) error {
	key := workerID.String()

	p.mu.Lock()
	w, ok := p.workers[key]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", taskgrid.ErrWorkerNotFound, key)
	}
	delete(p.workers, key)
	for i, k := range p.order {
		if k == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	if p.next >= len(p.order) {
		p.next = 0
	}
	p.mu.Unlock()

	p.logger.Info("worker removed", slog.String("worker_id", key))
	p.hooks.EmitWorkerLost(ctx, w.ID)
	p.failover(ctx, w.ID)
	return nil
}

// Heartbeat records liveness for a worker. A heartbeat from a worker the
// reaper had marked dead revives it.
func (p *Pool) Heartbeat(_ context.Context, workerID id.WorkerID) error {
	key := workerID.String()

	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[key]
	if !ok {
		return fmt.Errorf("%w: %s", taskgrid.ErrWorkerNotFound, key)
	}

	w.LastSeen = time.Now().UTC()
	if w.State == StateDead {
		p.logger.Info("dead worker revived by heartbeat", slog.String("worker_id", key))
		w.State = StateActive
		w.Load = 0
	}
	return nil
}

// Select picks the next worker with spare capacity, round-robin from the
// last selection, and reserves one slot on it. Returns nil when no worker
// has capacity; the caller leaves the task queued.
func (p *Pool) Select() *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.order)
	for i := 0; i < n; i++ {
		key := p.order[(p.next+i)%n]
		w := p.workers[key]
		if w.Spare() <= 0 {
			continue
		}
		w.Load++
		p.next = (p.next + i + 1) % n
		cp := *w
		return &cp
	}
	return nil
}

// Release returns a slot reserved by Select. Unknown or dead workers are
// ignored: their load was already reset.
func (p *Pool) Release(workerID id.WorkerID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID.String()]
	if !ok || w.State == StateDead {
		return
	}
	if w.Load > 0 {
		w.Load--
	}
}

// Worker returns a copy of the worker record.
func (p *Pool) Worker(workerID id.WorkerID) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", taskgrid.ErrWorkerNotFound, workerID)
	}
	cp := *w
	return &cp, nil
}

// Workers returns copies of all registered workers in registration order.
func (p *Pool) Workers() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Worker, 0, len(p.order))
	for _, key := range p.order {
		cp := *p.workers[key]
		out = append(out, &cp)
	}
	return out
}

// Start launches the liveness reaper. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.wg.Add(1)
	go p.reaperLoop()
	return nil
}

// Stop halts the reaper and waits for it to finish.
func (p *Pool) Stop(_ context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	return nil
}

// reaperLoop periodically marks silent workers dead and fails over their
// in-flight tasks.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reap(context.Background())
		}
	}
}

func (p *Pool) reap(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.livenessThreshold)

	p.mu.Lock()
	var dead []id.WorkerID
	for _, w := range p.workers {
		if w.State == StateDead {
			continue
		}
		if w.LastSeen.Before(cutoff) {
			w.State = StateDead
			w.Load = 0
			dead = append(dead, w.ID)
		}
	}
	p.mu.Unlock()

	for _, workerID := range dead {
		p.logger.Warn("worker missed liveness threshold, marking dead",
			slog.String("worker_id", workerID.String()),
			slog.Duration("threshold", p.livenessThreshold),
		)
		p.hooks.EmitWorkerLost(ctx, workerID)
		p.failover(ctx, workerID)
	}
}

// failover re-routes the in-flight tasks of a lost worker: back to
// RETRYING when retry budget remains, otherwise FAILED. Each transition
// goes through the store CAS, so a result that races in from the worker
// at the same moment is resolved by whichever lands first.
func (p *Pool) failover(ctx context.Context, workerID id.WorkerID) {
	tasks, err := p.store.ListByWorker(ctx, workerID)
	if err != nil {
		p.logger.Error("failover: list tasks by worker",
			slog.String("worker_id", workerID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, t := range tasks {
		attempt := t.RetryCount + 1
		if attempt <= t.MaxRetries {
			updated, trErr := p.store.TransitionTask(ctx, t.ID,
				[]task.State{task.StateProcessing}, task.StateRetrying,
				task.Patch{ClearWorker: true, RetryCount: &attempt, Error: "worker lost"})
			if trErr != nil {
				p.logger.Debug("failover transition lost",
					slog.String("task_id", t.ID),
					slog.String("error", trErr.Error()),
				)
				continue
			}
			p.hooks.EmitTaskRetrying(ctx, updated, attempt)
			continue
		}

		now := time.Now().UTC()
		updated, trErr := p.store.TransitionTask(ctx, t.ID,
			[]task.State{task.StateProcessing}, task.StateFailed,
			task.Patch{ClearWorker: true, Error: "worker lost", FinishedAt: &now})
		if trErr != nil {
			p.logger.Debug("failover transition lost",
				slog.String("task_id", t.ID),
				slog.String("error", trErr.Error()),
			)
			continue
		}
		p.hooks.EmitTaskFailed(ctx, updated, fmt.Errorf("worker %s lost", workerID))
	}
}
