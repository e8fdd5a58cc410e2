// Package engine wires the control-plane subsystems together: store,
// queue, controller, worker pool, dispatcher, observability hub, hooks,
// and the write-ahead log. The RPC layer calls the engine's operations;
// nothing below the engine knows about transport.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taskgrid/taskgrid"
	"github.com/taskgrid/taskgrid/backoff"
	"github.com/taskgrid/taskgrid/control"
	"github.com/taskgrid/taskgrid/dispatcher"
	"github.com/taskgrid/taskgrid/hook"
	"github.com/taskgrid/taskgrid/middleware"
	"github.com/taskgrid/taskgrid/obs"
	"github.com/taskgrid/taskgrid/queue"
	"github.com/taskgrid/taskgrid/store/memory"
	"github.com/taskgrid/taskgrid/task"
	"github.com/taskgrid/taskgrid/wal"
	"github.com/taskgrid/taskgrid/worker"
)

// Engine is the assembled control plane.
type Engine struct {
	cfg    taskgrid.Config
	logger *slog.Logger

	store      task.Store
	queue      *queue.Queue
	controller *control.Controller
	registry   *task.Registry
	pool       *worker.Pool
	dispatcher *dispatcher.Dispatcher
	hub        *obs.Hub
	hooks      *hook.Registry
	wal        wal.Appender

	startedAt time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	cfg     taskgrid.Config
	logger  *slog.Logger
	wal     wal.Appender
	bo      backoff.Strategy
	hooks   []hook.Hook
	extraMW []middleware.Middleware
}

// WithConfig overrides the default static configuration.
func WithConfig(cfg taskgrid.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the process logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithWAL sets the transition log. Defaults to wal.NopLog.
func WithWAL(log wal.Appender) Option {
	return func(o *options) { o.wal = log }
}

// WithBackoff sets the retry delay strategy used by the dispatcher.
func WithBackoff(s backoff.Strategy) Option {
	return func(o *options) { o.bo = s }
}

// WithHooks registers additional lifecycle hooks.
func WithHooks(hooks ...hook.Hook) Option {
	return func(o *options) { o.hooks = append(o.hooks, hooks...) }
}

// WithMiddleware appends execution middleware after the built-in chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.extraMW = append(o.extraMW, mws...) }
}

// New assembles an Engine. Call Start to run the loops.
func New(opts ...Option) *Engine {
	o := &options{
		cfg:    taskgrid.DefaultConfig(),
		logger: slog.Default(),
		wal:    wal.NopLog{},
	}
	for _, opt := range opts {
		opt(o)
	}

	hub := obs.NewHub()
	logger := slog.New(obs.NewLogHandler(o.logger.Handler(), hub, "engine"))

	hooks := hook.NewRegistry(logger)
	hooks.Register(hub)
	for _, h := range o.hooks {
		hooks.Register(h)
	}

	store := newWALStore(memory.New(), o.wal, logger)
	q := queue.New()

	var copts []control.Option
	if o.cfg.RetentionWindow > 0 {
		copts = append(copts, control.WithRetentionWindow(o.cfg.RetentionWindow))
	}
	controller := control.New(copts...)
	registry := task.NewRegistry()

	pool := worker.NewPool(store, hooks, logger,
		worker.WithLivenessThreshold(o.cfg.LivenessThreshold),
		worker.WithReapInterval(o.cfg.ReapInterval),
	)

	mws := []middleware.Middleware{
		middleware.Recover(logger),
		middleware.Tracing(),
		middleware.Metrics(),
		middleware.Logging(logger),
		middleware.Timeout(logger),
	}
	mws = append(mws, o.extraMW...)
	executor := worker.NewExecutor(registry, store, hooks, logger, mws...)

	dopts := []dispatcher.Option{dispatcher.WithInterval(o.cfg.DispatchInterval)}
	if o.bo != nil {
		dopts = append(dopts, dispatcher.WithBackoff(o.bo))
	}
	disp := dispatcher.New(store, q, controller, pool, executor, hooks, logger, dopts...)

	return &Engine{
		cfg:        o.cfg,
		logger:     logger,
		store:      store,
		queue:      q,
		controller: controller,
		registry:   registry,
		pool:       pool,
		dispatcher: disp,
		hub:        hub,
		hooks:      hooks,
		wal:        o.wal,
		stopCh:     make(chan struct{}),
	}
}

// Registry returns the handler registry for task type registration.
func (e *Engine) Registry() *task.Registry { return e.registry }

// Hub returns the observability hub.
func (e *Engine) Hub() *obs.Hub { return e.hub }

// Pool returns the worker pool.
func (e *Engine) Pool() *worker.Pool { return e.pool }

// Start launches the worker pool reaper, the dispatcher, and the
// retention janitor.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}
	e.running = true
	e.startedAt = time.Now().UTC()

	if err := e.pool.Start(ctx); err != nil {
		return err
	}
	if err := e.dispatcher.Start(ctx); err != nil {
		return err
	}

	e.wg.Add(1)
	go e.janitorLoop()

	e.logger.Info("engine started")
	return nil
}

// Stop shuts the engine down: dispatcher first (no new assignments), then
// the pool, then hooks and the log. Bounded by cfg.ShutdownTimeout unless
// ctx expires earlier.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
	defer cancel()

	close(e.stopCh)

	if err := e.dispatcher.Stop(ctx); err != nil {
		e.logger.Error("dispatcher stop", slog.String("error", err.Error()))
	}
	if err := e.pool.Stop(ctx); err != nil {
		e.logger.Error("pool stop", slog.String("error", err.Error()))
	}
	e.wg.Wait()

	e.hooks.EmitShutdown(ctx)

	if err := e.wal.Close(); err != nil {
		e.logger.Warn("wal close", slog.String("error", err.Error()))
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn("store close", slog.String("error", err.Error()))
	}

	e.logger.Info("engine stopped")
	return nil
}

// janitorLoop sweeps terminal tasks older than the retention window.
func (e *Engine) janitorLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			window := e.controller.Snapshot().RetentionWindow
			removed, err := e.store.SweepTerminal(context.Background(), window)
			if err != nil {
				e.logger.Error("retention sweep", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				e.logger.Info("retention sweep removed terminal tasks",
					slog.Int64("removed", removed),
					slog.Duration("window", window),
				)
			}
		}
	}
}
