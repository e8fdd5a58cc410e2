package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client is a hand-written client for the control-plane service. It
// works over any grpc.ClientConnInterface; pass DefaultDialOption when
// dialing so every call uses the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// DefaultDialOption makes the JSON content subtype the default for all
// calls on the connection.
func DefaultDialOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName))
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, c *Client, method string, req *Req) (*Resp, error) {
	out := new(Resp)
	if err := c.cc.Invoke(ctx, fullMethod(method), req, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitTask creates a new task.
func (c *Client) SubmitTask(ctx context.Context, req *SubmitTaskRequest) (*TaskResponse, error) {
	return invoke[SubmitTaskRequest, TaskResponse](ctx, c, "SubmitTask", req)
}

// CancelTask cancels a task; cancelling an already-terminal task
// succeeds and returns the task as it ended.
func (c *Client) CancelTask(ctx context.Context, req *CancelTaskRequest) (*TaskResponse, error) {
	return invoke[CancelTaskRequest, TaskResponse](ctx, c, "CancelTask", req)
}

// GetTaskStatus fetches one task.
func (c *Client) GetTaskStatus(ctx context.Context, req *GetTaskStatusRequest) (*TaskResponse, error) {
	return invoke[GetTaskStatusRequest, TaskResponse](ctx, c, "GetTaskStatus", req)
}

// PauseSystem pauses dispatch.
func (c *Client) PauseSystem(ctx context.Context, req *PauseSystemRequest) (*Ack, error) {
	return invoke[PauseSystemRequest, Ack](ctx, c, "PauseSystem", req)
}

// ResumeSystem resumes dispatch.
func (c *Client) ResumeSystem(ctx context.Context, req *ResumeSystemRequest) (*Ack, error) {
	return invoke[ResumeSystemRequest, Ack](ctx, c, "ResumeSystem", req)
}

// GetSystemStatus fetches the system summary.
func (c *Client) GetSystemStatus(ctx context.Context, req *GetSystemStatusRequest) (*SystemStatusResponse, error) {
	return invoke[GetSystemStatusRequest, SystemStatusResponse](ctx, c, "GetSystemStatus", req)
}

// UpdateConfig applies runtime config changes.
func (c *Client) UpdateConfig(ctx context.Context, req *UpdateConfigRequest) (*Ack, error) {
	return invoke[UpdateConfigRequest, Ack](ctx, c, "UpdateConfig", req)
}

// RegisterWorker adds a worker to the pool.
func (c *Client) RegisterWorker(ctx context.Context, req *RegisterWorkerRequest) (*WorkerResponse, error) {
	return invoke[RegisterWorkerRequest, WorkerResponse](ctx, c, "RegisterWorker", req)
}

// DeregisterWorker removes a worker.
func (c *Client) DeregisterWorker(ctx context.Context, req *DeregisterWorkerRequest) (*Ack, error) {
	return invoke[DeregisterWorkerRequest, Ack](ctx, c, "DeregisterWorker", req)
}

// WorkerHeartbeat records worker liveness.
func (c *Client) WorkerHeartbeat(ctx context.Context, req *WorkerHeartbeatRequest) (*Ack, error) {
	return invoke[WorkerHeartbeatRequest, Ack](ctx, c, "WorkerHeartbeat", req)
}

func openStream[Req, Resp any](ctx context.Context, c *Client, desc *grpc.StreamDesc, method string, req *Req) (grpc.ServerStreamingClient[Resp], error) {
	stream, err := c.cc.NewStream(ctx, desc, fullMethod(method), grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[Req, Resp]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// ListTasks opens the task snapshot stream (newest first).
func (c *Client) ListTasks(ctx context.Context, req *ListTasksRequest) (grpc.ServerStreamingClient[TaskResponse], error) {
	return openStream[ListTasksRequest, TaskResponse](ctx, c, &controlPlaneServiceDesc.Streams[0], "ListTasks", req)
}

// GetMetrics opens a metric batch stream.
func (c *Client) GetMetrics(ctx context.Context, req *GetMetricsRequest) (grpc.ServerStreamingClient[MetricsBatch], error) {
	return openStream[GetMetricsRequest, MetricsBatch](ctx, c, &controlPlaneServiceDesc.Streams[1], "GetMetrics", req)
}

// GetLogs opens a log record stream.
func (c *Client) GetLogs(ctx context.Context, req *GetLogsRequest) (grpc.ServerStreamingClient[LogRecord], error) {
	return openStream[GetLogsRequest, LogRecord](ctx, c, &controlPlaneServiceDesc.Streams[2], "GetLogs", req)
}
