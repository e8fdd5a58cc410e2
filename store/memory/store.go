// Package memory implements task.Store entirely in memory.
//
// Tasks are sharded by id hash, one RWMutex per shard, so compare-and-set
// transitions on the same task id serialize while transitions on
// different ids proceed independently. No operation takes a global lock.
package memory

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskgrid/taskgrid"
	"github.com/taskgrid/taskgrid/id"
	"github.com/taskgrid/taskgrid/task"
)

// Ensure Store implements task.Store at compile time.
var _ task.Store = (*Store)(nil)

// shardCount is the number of id-hash shards. Power of two so the
// modulo reduces to a mask.
const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
}

// Store is a fully in-memory implementation of task.Store.
// Safe for concurrent access.
type Store struct {
	shards [shardCount]*shard
	closed atomic.Bool
}

// New returns a new empty Store.
func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{tasks: make(map[string]*task.Task)}
	}
	return s
}

func (s *Store) shardFor(taskID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(taskID))
	return s.shards[h.Sum32()&(shardCount-1)]
}

// CreateTask persists a new task. Fails with ErrDuplicateTask on id reuse.
func (s *Store) CreateTask(_ context.Context, t *task.Task) error {
	if s.closed.Load() {
		return taskgrid.ErrStoreClosed
	}

	sh := s.shardFor(t.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.tasks[t.ID]; exists {
		return taskgrid.ErrDuplicateTask
	}
	cp := *t
	sh.tasks[t.ID] = &cp
	return nil
}

// TransitionTask performs the compare-and-set state change described by
// task.Store. The shard lock is held for the whole check-and-mutate, so
// two racing transitions on the same id serialize and exactly one wins.
func (s *Store) TransitionTask(_ context.Context, taskID string, from []task.State, to task.State, patch task.Patch) (*task.Task, error) {
	if s.closed.Load() {
		return nil, taskgrid.ErrStoreClosed
	}

	sh := s.shardFor(taskID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	t, ok := sh.tasks[taskID]
	if !ok {
		return nil, taskgrid.ErrTaskNotFound
	}

	// Expected-state check first: a loser racing a completed transition
	// reports staleness, not an invalid path.
	matched := false
	for _, f := range from {
		if t.State == f {
			matched = true
			break
		}
	}
	if !matched {
		return nil, taskgrid.ErrStaleTransition
	}

	if !task.ValidTransition(t.State, to) {
		return nil, taskgrid.ErrInvalidTransition
	}

	t.State = to
	t.UpdatedAt = time.Now().UTC()
	applyPatch(t, patch)

	cp := *t
	return &cp, nil
}

func applyPatch(t *task.Task, p task.Patch) {
	switch {
	case p.ClearWorker:
		t.WorkerID = id.Nil
	case p.WorkerID != nil:
		t.WorkerID = *p.WorkerID
	}
	if p.Result != nil {
		t.Result = p.Result
	}
	if p.Error != "" {
		t.Error = p.Error
	}
	if p.RetryCount != nil {
		t.RetryCount = *p.RetryCount
	}
	if p.StartedAt != nil {
		t.StartedAt = p.StartedAt
	}
	if p.FinishedAt != nil {
		t.FinishedAt = p.FinishedAt
	}
}

// GetTask retrieves a copy of a task by id.
func (s *Store) GetTask(_ context.Context, taskID string) (*task.Task, error) {
	if s.closed.Load() {
		return nil, taskgrid.ErrStoreClosed
	}

	sh := s.shardFor(taskID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	t, ok := sh.tasks[taskID]
	if !ok {
		return nil, taskgrid.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTasks returns copies of tasks matching the filter, newest first.
// Each shard is snapshotted under its own read lock; no lock is held
// across shards or during sorting.
func (s *Store) ListTasks(_ context.Context, f task.Filter) ([]*task.Task, error) {
	if s.closed.Load() {
		return nil, taskgrid.ErrStoreClosed
	}

	typeSet := make(map[string]struct{}, len(f.Types))
	for _, t := range f.Types {
		typeSet[t] = struct{}{}
	}
	stateSet := make(map[task.State]struct{}, len(f.States))
	for _, st := range f.States {
		stateSet[st] = struct{}{}
	}

	var result []*task.Task
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, t := range sh.tasks {
			if len(typeSet) > 0 {
				if _, ok := typeSet[t.Type]; !ok {
					continue
				}
			}
			if len(stateSet) > 0 {
				if _, ok := stateSet[t.State]; !ok {
					continue
				}
			}
			if !f.Since.IsZero() && t.CreatedAt.Before(f.Since) {
				continue
			}
			cp := *t
			result = append(result, &cp)
		}
		sh.mu.RUnlock()
	}

	// Newest first; id tie-break for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.After(result[k].CreatedAt)
		}
		return result[i].ID > result[k].ID
	})

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}

	return result, nil
}

// CountTasks returns the number of tasks matching the options.
func (s *Store) CountTasks(_ context.Context, opts task.CountOpts) (int64, error) {
	if s.closed.Load() {
		return 0, taskgrid.ErrStoreClosed
	}

	var count int64
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, t := range sh.tasks {
			if opts.State != "" && t.State != opts.State {
				continue
			}
			count++
		}
		sh.mu.RUnlock()
	}
	return count, nil
}

// ListByWorker returns copies of non-terminal tasks assigned to a worker.
func (s *Store) ListByWorker(_ context.Context, workerID id.WorkerID) ([]*task.Task, error) {
	if s.closed.Load() {
		return nil, taskgrid.ErrStoreClosed
	}

	key := workerID.String()
	var result []*task.Task
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, t := range sh.tasks {
			if t.State.Terminal() || t.WorkerID.String() != key {
				continue
			}
			cp := *t
			result = append(result, &cp)
		}
		sh.mu.RUnlock()
	}
	return result, nil
}

// SweepTerminal deletes terminal tasks last updated before the retention
// cutoff.
func (s *Store) SweepTerminal(_ context.Context, olderThan time.Duration) (int64, error) {
	if s.closed.Load() {
		return 0, taskgrid.ErrStoreClosed
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	var count int64
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, t := range sh.tasks {
			if t.State.Terminal() && t.UpdatedAt.Before(cutoff) {
				delete(sh.tasks, key)
				count++
			}
		}
		sh.mu.Unlock()
	}
	return count, nil
}

// Close marks the store closed. Subsequent calls fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
