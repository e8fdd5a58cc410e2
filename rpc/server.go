package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/taskgrid/taskgrid"
	"github.com/taskgrid/taskgrid/engine"
	"github.com/taskgrid/taskgrid/id"
	"github.com/taskgrid/taskgrid/obs"
	"github.com/taskgrid/taskgrid/task"
)

// MaxListLimit caps the number of tasks one ListTasks stream may send.
const MaxListLimit = 1000

// Server implements ControlPlaneServer over an engine.
type Server struct {
	engine *engine.Engine
	logger *slog.Logger
}

var _ ControlPlaneServer = (*Server)(nil)

// NewServer creates a control-plane RPC server.
func NewServer(e *engine.Engine, logger *slog.Logger) *Server {
	return &Server{engine: e, logger: logger}
}

// NewGRPCServer builds a grpc.Server with the standard interceptor chain
// and the control-plane plus health services registered.
func NewGRPCServer(e *engine.Engine, logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(
			RequestIDUnary(),
			LoggingUnary(logger),
			RecoveryUnary(logger),
		),
		grpc.ChainStreamInterceptor(
			LoggingStream(logger),
			RecoveryStream(logger),
		),
	)

	s := grpc.NewServer(opts...)
	RegisterControlPlaneServer(s, NewServer(e, logger))
	healthpb.RegisterHealthServer(s, health.NewServer())
	return s
}

// mapErr converts domain sentinel errors to gRPC status codes.
func mapErr(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, taskgrid.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, taskgrid.ErrDuplicateTask):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, taskgrid.ErrTaskNotFound), errors.Is(err, taskgrid.ErrWorkerNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, taskgrid.ErrInvalidTransition), errors.Is(err, taskgrid.ErrStaleTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, taskgrid.ErrStoreClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func parseOptionalDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "%s: invalid duration %q", field, value)
	}
	return d, nil
}

// SubmitTask implements ControlPlaneServer.
func (s *Server) SubmitTask(ctx context.Context, req *SubmitTaskRequest) (*TaskResponse, error) {
	timeout, err := parseOptionalDuration("timeout", req.Timeout)
	if err != nil {
		return nil, err
	}

	opts := []task.Option{task.WithPriority(req.Priority)}
	if timeout > 0 {
		opts = append(opts, task.WithTimeout(timeout))
	}
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return nil, status.Error(codes.InvalidArgument, "max_retries must be non-negative")
		}
		opts = append(opts, task.WithMaxRetries(*req.MaxRetries))
	}

	t, err := s.engine.SubmitTask(ctx, req.TaskID, req.Type, req.Payload, opts...)
	if err != nil {
		return nil, mapErr(err)
	}
	return &TaskResponse{Task: t}, nil
}

// CancelTask implements ControlPlaneServer.
func (s *Server) CancelTask(ctx context.Context, req *CancelTaskRequest) (*TaskResponse, error) {
	t, err := s.engine.CancelTask(ctx, req.TaskID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &TaskResponse{Task: t}, nil
}

// GetTaskStatus implements ControlPlaneServer.
func (s *Server) GetTaskStatus(ctx context.Context, req *GetTaskStatusRequest) (*TaskResponse, error) {
	t, err := s.engine.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &TaskResponse{Task: t}, nil
}

// PauseSystem implements ControlPlaneServer.
func (s *Server) PauseSystem(ctx context.Context, _ *PauseSystemRequest) (*Ack, error) {
	s.engine.Pause(ctx)
	return &Ack{}, nil
}

// ResumeSystem implements ControlPlaneServer.
func (s *Server) ResumeSystem(ctx context.Context, _ *ResumeSystemRequest) (*Ack, error) {
	s.engine.Resume(ctx)
	return &Ack{}, nil
}

// GetSystemStatus implements ControlPlaneServer.
func (s *Server) GetSystemStatus(ctx context.Context, _ *GetSystemStatusRequest) (*SystemStatusResponse, error) {
	st, err := s.engine.Status(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return &SystemStatusResponse{Status: st}, nil
}

// UpdateConfig implements ControlPlaneServer.
func (s *Server) UpdateConfig(ctx context.Context, req *UpdateConfigRequest) (*Ack, error) {
	if err := s.engine.UpdateConfig(ctx, req.Changes); err != nil {
		return nil, mapErr(err)
	}
	return &Ack{}, nil
}

// RegisterWorker implements ControlPlaneServer.
func (s *Server) RegisterWorker(ctx context.Context, req *RegisterWorkerRequest) (*WorkerResponse, error) {
	w, err := s.engine.AddWorker(ctx, req.Hostname, req.Capacity)
	if err != nil {
		return nil, mapErr(err)
	}
	return &WorkerResponse{Worker: w}, nil
}

// DeregisterWorker implements ControlPlaneServer.
func (s *Server) DeregisterWorker(ctx context.Context, req *DeregisterWorkerRequest) (*Ack, error) {
	workerID, err := id.ParseWorkerID(req.WorkerID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "worker_id: %v", err)
	}
	if err := s.engine.RemoveWorker(ctx, workerID); err != nil {
		return nil, mapErr(err)
	}
	return &Ack{}, nil
}

// WorkerHeartbeat implements ControlPlaneServer.
func (s *Server) WorkerHeartbeat(ctx context.Context, req *WorkerHeartbeatRequest) (*Ack, error) {
	workerID, err := id.ParseWorkerID(req.WorkerID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "worker_id: %v", err)
	}
	if err := s.engine.Heartbeat(ctx, workerID); err != nil {
		return nil, mapErr(err)
	}
	return &Ack{}, nil
}

// ListTasks implements ControlPlaneServer. The stream sends a snapshot
// newest-first and ends; it is restartable by calling again.
func (s *Server) ListTasks(req *ListTasksRequest, stream grpc.ServerStreamingServer[TaskResponse]) error {
	limit := req.Limit
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	states := make([]task.State, 0, len(req.States))
	for _, raw := range req.States {
		states = append(states, task.State(raw))
	}

	tasks, err := s.engine.ListTasks(stream.Context(), task.Filter{
		Types:  req.Types,
		States: states,
		Since:  req.Since,
		Limit:  limit,
	})
	if err != nil {
		return mapErr(err)
	}

	for _, t := range tasks {
		if err := stream.Context().Err(); err != nil {
			return status.FromContextError(err).Err()
		}
		if err := stream.Send(&TaskResponse{Task: t}); err != nil {
			return err
		}
	}
	return nil
}

// GetMetrics implements ControlPlaneServer. Batches flow until the query
// duration elapses or the client goes away.
func (s *Server) GetMetrics(req *GetMetricsRequest, stream grpc.ServerStreamingServer[MetricsBatch]) error {
	duration, err := parseOptionalDuration("duration", req.Duration)
	if err != nil {
		return err
	}
	poll, err := parseOptionalDuration("poll_interval", req.PollInterval)
	if err != nil {
		return err
	}

	ctx := stream.Context()
	ch := s.engine.Hub().StreamMetrics(ctx, obs.MetricQuery{
		Names:        req.Names,
		Duration:     duration,
		PollInterval: poll,
	})

	for batch := range ch {
		if err := stream.Send(&MetricsBatch{Samples: batch}); err != nil {
			return err
		}
	}
	return status.FromContextError(ctx.Err()).Err()
}

// GetLogs implements ControlPlaneServer. The stream sends a ring
// snapshot oldest-first and ends; history already evicted is silently
// omitted.
func (s *Server) GetLogs(req *GetLogsRequest, stream grpc.ServerStreamingServer[LogRecord]) error {
	minLevel := slog.LevelInfo
	if req.MinLevel != "" {
		if err := minLevel.UnmarshalText([]byte(req.MinLevel)); err != nil {
			return status.Errorf(codes.InvalidArgument, "min_level: invalid level %q", req.MinLevel)
		}
	}

	records := s.engine.Hub().QueryLogs(obs.LogFilter{
		MinLevel: minLevel,
		Source:   req.Source,
		Since:    req.Since,
		Limit:    req.Limit,
	})

	for _, rec := range records {
		if err := stream.Context().Err(); err != nil {
			return status.FromContextError(err).Err()
		}
		if err := stream.Send(&LogRecord{Record: rec}); err != nil {
			return err
		}
	}
	return nil
}

// fullMethod builds the wire method name for a control-plane method.
func fullMethod(name string) string {
	return fmt.Sprintf("/%s/%s", ServiceName, name)
}
