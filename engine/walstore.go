package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskgrid/taskgrid/task"
	"github.com/taskgrid/taskgrid/wal"
)

// walStore decorates a task.Store so every successful transition is
// appended to the write-ahead log. Appends are best-effort: a log failure
// is logged and the transition stands.
type walStore struct {
	task.Store

	log    wal.Appender
	logger *slog.Logger
}

func newWALStore(inner task.Store, log wal.Appender, logger *slog.Logger) *walStore {
	return &walStore{Store: inner, log: log, logger: logger}
}

func (s *walStore) TransitionTask(ctx context.Context, taskID string, from []task.State, to task.State, patch task.Patch) (*task.Task, error) {
	before, _ := s.Store.GetTask(ctx, taskID)

	updated, err := s.Store.TransitionTask(ctx, taskID, from, to, patch)
	if err != nil {
		return nil, err
	}

	rec := wal.Record{
		TaskID:    taskID,
		To:        string(to),
		WorkerID:  updated.WorkerID.String(),
		Error:     updated.Error,
		Timestamp: time.Now().UTC(),
	}
	if before != nil {
		rec.From = string(before.State)
	}
	s.append(ctx, rec)

	return updated, nil
}

func (s *walStore) CreateTask(ctx context.Context, t *task.Task) error {
	if err := s.Store.CreateTask(ctx, t); err != nil {
		return err
	}

	s.append(ctx, wal.Record{
		TaskID:    t.ID,
		To:        string(t.State),
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (s *walStore) append(ctx context.Context, rec wal.Record) {
	if err := s.log.Append(ctx, rec); err != nil {
		s.logger.Warn("wal append failed",
			slog.String("task_id", rec.TaskID),
			slog.String("error", err.Error()),
		)
	}
}
