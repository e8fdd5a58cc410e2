// Package wal provides a best-effort write-ahead log of task transitions.
// The control plane keeps its state in memory; the log is an external
// audit trail, not a recovery mechanism, so append failures are reported
// to the caller for logging and never block a transition.
package wal

import (
	"context"
	"time"
)

// Record is one logged task transition.
type Record struct {
	TaskID    string    `json:"task_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	WorkerID  string    `json:"worker_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Appender receives transition records.
type Appender interface {
	// Append writes one record to the log.
	Append(ctx context.Context, rec Record) error

	// Close releases log resources.
	Close() error
}

// NopLog discards all records. It is the default when no log is
// configured.
type NopLog struct{}

var _ Appender = NopLog{}

// Append implements Appender.
func (NopLog) Append(context.Context, Record) error { return nil }

// Close implements Appender.
func (NopLog) Close() error { return nil }
