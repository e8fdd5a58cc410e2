package rpc

import (
	"encoding/json"
	"time"

	"github.com/taskgrid/taskgrid/engine"
	"github.com/taskgrid/taskgrid/obs"
	"github.com/taskgrid/taskgrid/task"
	"github.com/taskgrid/taskgrid/worker"
)

// Durations cross the wire as strings in time.ParseDuration format
// ("30s", "1m30s") so operators can write them by hand.

// SubmitTaskRequest creates a new task.
type SubmitTaskRequest struct {
	TaskID  string          `json:"task_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`

	Priority int    `json:"priority,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	// MaxRetries overrides the system default when set.
	MaxRetries *int `json:"max_retries,omitempty"`
}

// TaskResponse carries one task. It is both the unary response type and
// the ListTasks stream item.
type TaskResponse struct {
	Task *task.Task `json:"task"`
}

// CancelTaskRequest cancels a task by id.
type CancelTaskRequest struct {
	TaskID string `json:"task_id"`
}

// GetTaskStatusRequest fetches one task.
type GetTaskStatusRequest struct {
	TaskID string `json:"task_id"`
}

// ListTasksRequest filters the task stream.
type ListTasksRequest struct {
	Types  []string  `json:"types,omitempty"`
	States []string  `json:"states,omitempty"`
	Since  time.Time `json:"since,omitempty"`
	// Limit caps the stream; it is clamped to MaxListLimit.
	Limit int `json:"limit,omitempty"`
}

// PauseSystemRequest pauses dispatch.
type PauseSystemRequest struct{}

// ResumeSystemRequest resumes dispatch.
type ResumeSystemRequest struct{}

// Ack is the empty success response.
type Ack struct{}

// GetSystemStatusRequest fetches the system summary.
type GetSystemStatusRequest struct{}

// SystemStatusResponse wraps the engine status.
type SystemStatusResponse struct {
	Status *engine.Status `json:"status"`
}

// UpdateConfigRequest applies runtime config changes all-or-nothing.
type UpdateConfigRequest struct {
	Changes map[string]string `json:"changes"`
}

// RegisterWorkerRequest adds a worker to the pool.
type RegisterWorkerRequest struct {
	Hostname string `json:"hostname,omitempty"`
	Capacity int    `json:"capacity"`
}

// WorkerResponse carries one worker record.
type WorkerResponse struct {
	Worker *worker.Worker `json:"worker"`
}

// DeregisterWorkerRequest removes a worker from the pool.
type DeregisterWorkerRequest struct {
	WorkerID string `json:"worker_id"`
}

// WorkerHeartbeatRequest records worker liveness.
type WorkerHeartbeatRequest struct {
	WorkerID string `json:"worker_id"`
}

// GetMetricsRequest opens a metric stream.
type GetMetricsRequest struct {
	Names []string `json:"names,omitempty"`
	// Duration bounds the stream lifetime; empty uses the hub default.
	Duration string `json:"duration,omitempty"`
	// PollInterval is the batch cadence; empty uses the hub default.
	PollInterval string `json:"poll_interval,omitempty"`
}

// MetricsBatch is one item of the GetMetrics stream.
type MetricsBatch struct {
	Samples []obs.Sample `json:"samples"`
}

// GetLogsRequest opens a log stream.
type GetLogsRequest struct {
	// MinLevel drops records below the slog level ("debug", "info",
	// "warn", "error"). Empty means info.
	MinLevel string    `json:"min_level,omitempty"`
	Source   string    `json:"source,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// LogRecord is one item of the GetLogs stream.
type LogRecord struct {
	Record obs.Record `json:"record"`
}
