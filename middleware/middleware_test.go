package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/taskgrid/taskgrid/middleware"
	"github.com/taskgrid/taskgrid/task"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *task.Task, next middleware.Handler) ([]byte, error) {
		order = append(order, "mw1-before")
		result, err := next(ctx)
		order = append(order, "mw1-after")
		return result, err
	}

	mw2 := func(ctx context.Context, _ *task.Task, next middleware.Handler) ([]byte, error) {
		order = append(order, "mw2-before")
		result, err := next(ctx)
		order = append(order, "mw2-after")
		return result, err
	}

	chain := middleware.Chain(mw1, mw2)
	tk := &task.Task{ID: "task-1", Type: "test"}
	handler := func(_ context.Context) ([]byte, error) {
		order = append(order, "handler")
		return nil, nil
	}

	_, err := chain(context.Background(), tk, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) ([]byte, error) {
		called = true
		return []byte(`"ok"`), nil
	}

	result, err := chain(context.Background(), &task.Task{ID: "task-1"}, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
	if string(result) != `"ok"` {
		t.Errorf("result not passed through: %q", result)
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *task.Task, next middleware.Handler) ([]byte, error) {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	_, err := chain(context.Background(), &task.Task{ID: "task-1"}, func(_ context.Context) ([]byte, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	tk := &task.Task{ID: "task-panicky", Type: "panicky"}

	result, err := mw(context.Background(), tk, func(_ context.Context) ([]byte, error) {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if result != nil {
		t.Errorf("expected nil result after panic, got %q", result)
	}
	if got := err.Error(); got != "panic in task task-panicky: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	tk := &task.Task{ID: "task-normal", Type: "normal"}

	called := false
	_, err := mw(context.Background(), tk, func(_ context.Context) ([]byte, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Success(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	tk := &task.Task{ID: "task-log", Type: "log-test"}

	called := false
	_, err := mw(context.Background(), tk, func(_ context.Context) ([]byte, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Error(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	tk := &task.Task{ID: "task-log", Type: "log-test"}
	want := errors.New("fail")

	_, err := mw(context.Background(), tk, func(_ context.Context) ([]byte, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_EnforcesDeadline(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	tk := &task.Task{ID: "task-slow", Type: "slow", Timeout: 20 * time.Millisecond}

	_, err := mw(context.Background(), tk, func(ctx context.Context) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return nil, nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_ZeroIsUnbounded(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	tk := &task.Task{ID: "task-fast", Type: "fast"}

	_, err := mw(context.Background(), tk, func(ctx context.Context) ([]byte, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("unexpected deadline on context for zero timeout")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
