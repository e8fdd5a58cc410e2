package rpc_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/taskgrid/taskgrid"
	"github.com/taskgrid/taskgrid/backoff"
	"github.com/taskgrid/taskgrid/engine"
	"github.com/taskgrid/taskgrid/rpc"
	"github.com/taskgrid/taskgrid/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient stands up an engine behind a bufconn gRPC server and
// returns a connected client.
func newTestClient(t *testing.T) (*rpc.Client, *engine.Engine) {
	t.Helper()

	cfg := taskgrid.DefaultConfig()
	cfg.DispatchInterval = 10 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second

	e := engine.New(
		engine.WithConfig(cfg),
		engine.WithLogger(testLogger()),
		engine.WithBackoff(backoff.Constant(10*time.Millisecond)),
	)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	lis := bufconn.Listen(1 << 20)
	srv := rpc.NewGRPCServer(e, testLogger())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		rpc.DefaultDialOption(),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return rpc.NewClient(conn), e
}

func wantCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if status.Code(err) != want {
		t.Fatalf("code = %v (%v), want %v", status.Code(err), err, want)
	}
}

// -----------------------------------------------------------------------------
// Task lifecycle over the wire
// -----------------------------------------------------------------------------

func TestRPC_SubmitGetCancel(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	submitted, err := client.SubmitTask(ctx, &rpc.SubmitTaskRequest{
		TaskID:  "task-1",
		Type:    "email",
		Payload: []byte(`{"to":"ops@example.com"}`),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Task.State != task.StatePending {
		t.Fatalf("state = %q, want pending", submitted.Task.State)
	}

	got, err := client.GetTaskStatus(ctx, &rpc.GetTaskStatusRequest{TaskID: "task-1"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Task.Payload) != `{"to":"ops@example.com"}` {
		t.Fatalf("payload lost in transit: %s", got.Task.Payload)
	}

	cancelled, err := client.CancelTask(ctx, &rpc.CancelTaskRequest{TaskID: "task-1"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Task.State != task.StateCancelled {
		t.Fatalf("state = %q, want cancelled", cancelled.Task.State)
	}
}

func TestRPC_ErrorCodes(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.SubmitTask(ctx, &rpc.SubmitTaskRequest{TaskID: "", Type: "email"})
	wantCode(t, err, codes.InvalidArgument)

	_, err = client.SubmitTask(ctx, &rpc.SubmitTaskRequest{TaskID: "task-1", Type: "email", Timeout: "soon"})
	wantCode(t, err, codes.InvalidArgument)

	_, err = client.SubmitTask(ctx, &rpc.SubmitTaskRequest{TaskID: "task-1", Type: "email", Priority: -1})
	wantCode(t, err, codes.InvalidArgument)

	if _, err := client.SubmitTask(ctx, &rpc.SubmitTaskRequest{TaskID: "task-1", Type: "email"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = client.SubmitTask(ctx, &rpc.SubmitTaskRequest{TaskID: "task-1", Type: "email"})
	wantCode(t, err, codes.AlreadyExists)

	_, err = client.GetTaskStatus(ctx, &rpc.GetTaskStatusRequest{TaskID: "nope"})
	wantCode(t, err, codes.NotFound)

	_, err = client.CancelTask(ctx, &rpc.CancelTaskRequest{TaskID: "nope"})
	wantCode(t, err, codes.NotFound)

	_, err = client.DeregisterWorker(ctx, &rpc.DeregisterWorkerRequest{WorkerID: "not-a-typeid"})
	wantCode(t, err, codes.InvalidArgument)
}

// -----------------------------------------------------------------------------
// System control
// -----------------------------------------------------------------------------

func TestRPC_PauseResumeStatus(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	if _, err := client.PauseSystem(ctx, &rpc.PauseSystemRequest{}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	st, err := client.GetSystemStatus(ctx, &rpc.GetSystemStatusRequest{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Status.Running {
		t.Fatal("Running = true after pause")
	}

	if _, err := client.ResumeSystem(ctx, &rpc.ResumeSystemRequest{}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	st, err = client.GetSystemStatus(ctx, &rpc.GetSystemStatusRequest{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Status.Running {
		t.Fatal("Running = false after resume")
	}
}

func TestRPC_UpdateConfig(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.UpdateConfig(ctx, &rpc.UpdateConfigRequest{
		Changes: map[string]string{"bogus": "1"},
	})
	wantCode(t, err, codes.InvalidArgument)

	if _, err := client.UpdateConfig(ctx, &rpc.UpdateConfigRequest{
		Changes: map[string]string{"max_retries": "7"},
	}); err != nil {
		t.Fatalf("update config: %v", err)
	}

	submitted, err := client.SubmitTask(ctx, &rpc.SubmitTaskRequest{TaskID: "task-1", Type: "email"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Task.MaxRetries != 7 {
		t.Fatalf("max retries = %d, want 7", submitted.Task.MaxRetries)
	}
}

// -----------------------------------------------------------------------------
// Worker management
// -----------------------------------------------------------------------------

func TestRPC_WorkerLifecycle(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	registered, err := client.RegisterWorker(ctx, &rpc.RegisterWorkerRequest{Hostname: "host-a", Capacity: 4})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	workerID := registered.Worker.ID.String()

	if _, err := client.WorkerHeartbeat(ctx, &rpc.WorkerHeartbeatRequest{WorkerID: workerID}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	if _, err := client.DeregisterWorker(ctx, &rpc.DeregisterWorkerRequest{WorkerID: workerID}); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	_, err = client.WorkerHeartbeat(ctx, &rpc.WorkerHeartbeatRequest{WorkerID: workerID})
	wantCode(t, err, codes.NotFound)
}

func TestRPC_RegisterWorkerRejectsZeroCapacity(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.RegisterWorker(context.Background(), &rpc.RegisterWorkerRequest{Hostname: "host-a", Capacity: 0})
	wantCode(t, err, codes.InvalidArgument)
}

// -----------------------------------------------------------------------------
// Streams
// -----------------------------------------------------------------------------

func TestRPC_ListTasksStream(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	for _, taskID := range []string{"task-a", "task-b", "task-c"} {
		if _, err := client.SubmitTask(ctx, &rpc.SubmitTaskRequest{TaskID: taskID, Type: "email"}); err != nil {
			t.Fatalf("submit %s: %v", taskID, err)
		}
	}
	if _, err := client.CancelTask(ctx, &rpc.CancelTaskRequest{TaskID: "task-b"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stream, err := client.ListTasks(ctx, &rpc.ListTasksRequest{States: []string{"pending"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	var ids []string
	for {
		item, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		ids = append(ids, item.Task.ID)
	}
	if len(ids) != 2 {
		t.Fatalf("pending tasks = %v, want 2", ids)
	}
	for _, taskID := range ids {
		if taskID == "task-b" {
			t.Fatal("cancelled task leaked through the state filter")
		}
	}
}

func TestRPC_ListTasksLimit(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	for _, taskID := range []string{"task-a", "task-b", "task-c"} {
		if _, err := client.SubmitTask(ctx, &rpc.SubmitTaskRequest{TaskID: taskID, Type: "email"}); err != nil {
			t.Fatalf("submit %s: %v", taskID, err)
		}
	}

	stream, err := client.ListTasks(ctx, &rpc.ListTasksRequest{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	var n int
	for {
		_, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		n++
	}
	if n != 2 {
		t.Fatalf("stream sent %d tasks, want 2", n)
	}
}

func TestRPC_GetLogsStream(t *testing.T) {
	client, e := newTestClient(t)
	ctx := context.Background()

	e.Hub().RecordLog(slog.LevelInfo, "dispatcher", "task dispatched")
	e.Hub().RecordLog(slog.LevelError, "worker", "task failed")

	stream, err := client.GetLogs(ctx, &rpc.GetLogsRequest{MinLevel: "error"})
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}

	var messages []string
	for {
		item, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		messages = append(messages, item.Record.Message)
	}
	if len(messages) != 1 || messages[0] != "task failed" {
		t.Fatalf("messages = %v, want [task failed]", messages)
	}
}

func TestRPC_GetMetricsStreamEndsAfterDuration(t *testing.T) {
	client, e := newTestClient(t)
	ctx := context.Background()

	e.Hub().RecordMetric("queue_depth", map[string]float64{"depth": 3}, time.Now().UTC())

	stream, err := client.GetMetrics(ctx, &rpc.GetMetricsRequest{
		Duration:     "150ms",
		PollInterval: "25ms",
	})
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}

	var sawSample bool
	done := make(chan error, 1)
	go func() {
		for {
			batch, err := stream.Recv()
			if err != nil {
				done <- err
				return
			}
			if len(batch.Samples) > 0 {
				sawSample = true
			}
		}
	}()

	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("stream ended with %v, want EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("metric stream never terminated")
	}
	if !sawSample {
		t.Fatal("no metric samples received")
	}
}
