package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "taskgrid.v1.ControlPlane"

// ControlPlaneServer is the server-side contract. Server implements it;
// the hand-wired ServiceDesc below routes methods to it.
type ControlPlaneServer interface {
	SubmitTask(ctx context.Context, req *SubmitTaskRequest) (*TaskResponse, error)
	CancelTask(ctx context.Context, req *CancelTaskRequest) (*TaskResponse, error)
	GetTaskStatus(ctx context.Context, req *GetTaskStatusRequest) (*TaskResponse, error)
	PauseSystem(ctx context.Context, req *PauseSystemRequest) (*Ack, error)
	ResumeSystem(ctx context.Context, req *ResumeSystemRequest) (*Ack, error)
	GetSystemStatus(ctx context.Context, req *GetSystemStatusRequest) (*SystemStatusResponse, error)
	UpdateConfig(ctx context.Context, req *UpdateConfigRequest) (*Ack, error)
	RegisterWorker(ctx context.Context, req *RegisterWorkerRequest) (*WorkerResponse, error)
	DeregisterWorker(ctx context.Context, req *DeregisterWorkerRequest) (*Ack, error)
	WorkerHeartbeat(ctx context.Context, req *WorkerHeartbeatRequest) (*Ack, error)

	ListTasks(req *ListTasksRequest, stream grpc.ServerStreamingServer[TaskResponse]) error
	GetMetrics(req *GetMetricsRequest, stream grpc.ServerStreamingServer[MetricsBatch]) error
	GetLogs(req *GetLogsRequest, stream grpc.ServerStreamingServer[LogRecord]) error
}

// RegisterControlPlaneServer registers the service on a grpc.Server.
func RegisterControlPlaneServer(s grpc.ServiceRegistrar, srv ControlPlaneServer) {
	s.RegisterService(&controlPlaneServiceDesc, srv)
}

func unaryHandler[Req, Resp any](
	method func(ControlPlaneServer, context.Context, *Req) (*Resp, error),
	methodName string,
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(ControlPlaneServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + methodName,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(srv.(ControlPlaneServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamHandler[Req, Resp any](
	method func(ControlPlaneServer, *Req, grpc.ServerStreamingServer[Resp]) error,
) func(srv any, stream grpc.ServerStream) error {
	return func(srv any, stream grpc.ServerStream) error {
		in := new(Req)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		out := &grpc.GenericServerStream[Req, Resp]{ServerStream: stream}
		return method(srv.(ControlPlaneServer), in, out)
	}
}

var controlPlaneServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlPlaneServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SubmitTask",
			Handler:    unaryHandler(ControlPlaneServer.SubmitTask, "SubmitTask"),
		},
		{
			MethodName: "CancelTask",
			Handler:    unaryHandler(ControlPlaneServer.CancelTask, "CancelTask"),
		},
		{
			MethodName: "GetTaskStatus",
			Handler:    unaryHandler(ControlPlaneServer.GetTaskStatus, "GetTaskStatus"),
		},
		{
			MethodName: "PauseSystem",
			Handler:    unaryHandler(ControlPlaneServer.PauseSystem, "PauseSystem"),
		},
		{
			MethodName: "ResumeSystem",
			Handler:    unaryHandler(ControlPlaneServer.ResumeSystem, "ResumeSystem"),
		},
		{
			MethodName: "GetSystemStatus",
			Handler:    unaryHandler(ControlPlaneServer.GetSystemStatus, "GetSystemStatus"),
		},
		{
			MethodName: "UpdateConfig",
			Handler:    unaryHandler(ControlPlaneServer.UpdateConfig, "UpdateConfig"),
		},
		{
			MethodName: "RegisterWorker",
			Handler:    unaryHandler(ControlPlaneServer.RegisterWorker, "RegisterWorker"),
		},
		{
			MethodName: "DeregisterWorker",
			Handler:    unaryHandler(ControlPlaneServer.DeregisterWorker, "DeregisterWorker"),
		},
		{
			MethodName: "WorkerHeartbeat",
			Handler:    unaryHandler(ControlPlaneServer.WorkerHeartbeat, "WorkerHeartbeat"),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ListTasks",
			Handler:       streamHandler(ControlPlaneServer.ListTasks),
			ServerStreams: true,
		},
		{
			StreamName:    "GetMetrics",
			Handler:       streamHandler(ControlPlaneServer.GetMetrics),
			ServerStreams: true,
		},
		{
			StreamName:    "GetLogs",
			Handler:       streamHandler(ControlPlaneServer.GetLogs),
			ServerStreams: true,
		},
	},
	Metadata: "taskgrid/v1/control_plane",
}
