package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Additional-Code/copra/internal/config"
	"github.com/Additional-Code/copra/pkg/errorbank"
)

// Module exposes the gRPC server and lifecycle hooks to Fx.
var Module = fx.Module("grpc_server",
	fx.Provide(NewServer, NewHealth),
	fx.Invoke(Run, RunHealth),
)

// NewServer builds a gRPC server whose interceptors log each call, convert panics into
// codes.Internal and map application errors onto their gRPC status.
func NewServer(logger *zap.Logger) *grpc.Server {
	logger = logger.Named("grpc")

	unary := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = recovered(logger, info.FullMethod, r)
			}
			logCall(logger, "unary", info.FullMethod, time.Since(start), err)
		}()
		resp, err = handler(ctx, req)
		return resp, toStatus(err)
	}

	stream := func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = recovered(logger, info.FullMethod, r)
			}
			logCall(logger, "stream", info.FullMethod, time.Since(start), err)
		}()
		return toStatus(handler(srv, ss))
	}

	return grpc.NewServer(
		grpc.ChainUnaryInterceptor(unary),
		grpc.ChainStreamInterceptor(stream),
	)
}

// toStatus leaves gRPC status errors alone and maps everything else through errorbank.
// Internal causes are not sent to the client.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	appErr := errorbank.From(err)
	if appErr.Kind() == errorbank.KindInternal {
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(appErr.GRPCCode(), appErr.Message())
}

func recovered(logger *zap.Logger, method string, r any) error {
	logger.Error("grpc handler panicked", zap.String("method", method), zap.Any("panic", r), zap.Stack("stack"))
	return status.Error(codes.Internal, "internal error")
}

func logCall(logger *zap.Logger, kind, method string, elapsed time.Duration, err error) {
	level := zapcore.InfoLevel
	switch {
	case err != nil:
		level = zapcore.WarnLevel
	case strings.HasPrefix(method, healthService):
		level = zapcore.DebugLevel
	}
	if ce := logger.Check(level, "grpc "+kind+" call finished"); ce != nil {
		ce.Write(
			zap.String("method", method),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
	}
}

// Run binds the gRPC server to the configured host/port and manages lifecycle.
func Run(lc fx.Lifecycle, cfg config.Config, server *grpc.Server, logger *zap.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	var listener net.Listener

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen grpc: %w", err)
			}
			listener = ln
			logger.Info("starting gRPC server", zap.String("addr", addr))
			go func() {
				if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
					logger.Error("grpc server stopped unexpectedly", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping gRPC server")
			stopped := make(chan struct{})
			go func() {
				server.GracefulStop()
				close(stopped)
			}()

			select {
			case <-ctx.Done():
				server.Stop()
				return ctx.Err()
			case <-stopped:
				return nil
			}
		},
	})
}
