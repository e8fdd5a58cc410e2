package wal

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis Stream key transition records are appended to.
const DefaultStream = "taskgrid:transitions"

// DefaultMaxLen caps the stream length (approximate trimming).
const DefaultMaxLen = 100_000

// RedisLog appends transition records to a Redis Stream via XADD. The
// stream is capped with approximate MAXLEN trimming so the log never
// grows unbounded.
type RedisLog struct {
	client *redis.Client
	stream string
	maxLen int64
}

var _ Appender = (*RedisLog)(nil)

// RedisOption configures a RedisLog.
type RedisOption func(*RedisLog)

// WithStream overrides the stream key.
func WithStream(name string) RedisOption {
	return func(l *RedisLog) { l.stream = name }
}

// WithMaxLen overrides the approximate stream cap.
func WithMaxLen(n int64) RedisOption {
	return func(l *RedisLog) { l.maxLen = n }
}

// NewRedisLog creates a log writing to the given Redis client.
func NewRedisLog(client *redis.Client, opts ...RedisOption) *RedisLog {
	l := &RedisLog{
		client: client,
		stream: DefaultStream,
		maxLen: DefaultMaxLen,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append implements Appender.
func (l *RedisLog) Append(ctx context.Context, rec Record) error {
	values := map[string]interface{}{
		"task_id": rec.TaskID,
		"from":    rec.From,
		"to":      rec.To,
		"ts":      rec.Timestamp.UnixMilli(),
	}
	if rec.WorkerID != "" {
		values["worker_id"] = rec.WorkerID
	}
	if rec.Error != "" {
		values["error"] = rec.Error
	}

	err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		MaxLen: l.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("wal: append to stream %s: %w", l.stream, err)
	}
	return nil
}

// Close implements Appender.
func (l *RedisLog) Close() error {
	return l.client.Close()
}
