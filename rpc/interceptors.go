package rpc

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// requestIDKey is the metadata key carrying the per-request id.
const requestIDKey = "x-request-id"

type requestIDCtxKey struct{}

// RequestIDFrom returns the request id injected by RequestIDUnary, or ""
// when no interceptor ran.
func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// RequestIDUnary propagates the caller's x-request-id or generates one,
// injects it into the context, and echoes it in the response headers.
func RequestIDUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var requestID string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(requestIDKey); len(vals) > 0 && vals[0] != "" {
				requestID = vals[0]
			}
		}
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx = context.WithValue(ctx, requestIDCtxKey{}, requestID)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDKey, requestID))

		return handler(ctx, req)
	}
}

// LoggingUnary logs one access line per unary call.
func LoggingUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)

		attrs := []any{
			slog.String("method", info.FullMethod),
			slog.Duration("elapsed", elapsed),
		}
		if requestID := RequestIDFrom(ctx); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}

		if err != nil {
			attrs = append(attrs,
				slog.String("code", status.Code(err).String()),
				slog.String("error", err.Error()),
			)
			logger.Error("rpc", attrs...)
		} else {
			logger.Info("rpc", attrs...)
		}
		return resp, err
	}
}

// LoggingStream logs one access line per stream, after it ends.
func LoggingStream(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("rpc stream",
				slog.String("method", info.FullMethod),
				slog.Duration("elapsed", elapsed),
				slog.String("code", status.Code(err).String()),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("rpc stream",
				slog.String("method", info.FullMethod),
				slog.Duration("elapsed", elapsed),
			)
		}
		return err
	}
}

// RecoveryUnary converts handler panics into codes.Internal.
func RecoveryUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered in rpc handler",
					slog.String("method", info.FullMethod),
					slog.Any("panic", r),
				)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// RecoveryStream converts stream handler panics into codes.Internal.
func RecoveryStream(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered in rpc stream handler",
					slog.String("method", info.FullMethod),
					slog.Any("panic", r),
				)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(srv, ss)
	}
}
