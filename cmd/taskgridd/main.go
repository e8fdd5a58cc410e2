// Command taskgridd runs the task control-plane daemon: the scheduling
// engine plus its gRPC surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskgrid/taskgrid/engine"
	"github.com/taskgrid/taskgrid/rpc"
	"github.com/taskgrid/taskgrid/wal"
)

func main() {
	configPath := flag.String("config", "", "path to taskgrid.yaml (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "taskgridd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)

	opts := []engine.Option{
		engine.WithConfig(cfg.engineConfig()),
		engine.WithLogger(logger),
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		var walOpts []wal.RedisOption
		if cfg.Redis.Stream != "" {
			walOpts = append(walOpts, wal.WithStream(cfg.Redis.Stream))
		}
		opts = append(opts, engine.WithWAL(wal.NewRedisLog(client, walOpts...)))
		logger.Info("transition log enabled",
			slog.String("redis_addr", cfg.Redis.Addr))
	}

	e := engine.New(opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	srv := rpc.NewGRPCServer(e, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()
	logger.Info("control plane listening", slog.String("addr", lis.Addr().String()))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	// Drain RPCs first so in-flight calls see consistent engine state,
	// then stop the engine within its shutdown budget.
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.Engine.ShutdownTimeout):
		srv.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer cancel()
	if err := e.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop engine: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(cfg logConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(strings.TrimSpace(cfg.Level)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}
