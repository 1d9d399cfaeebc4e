package server

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCServer registers JobAdmin, the health service and reflection (for grpcurl).
func NewGRPCServer(admin JobAdminServer, hs *Health, logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(LoggingInterceptor(logger))}, opts...)
	s := grpc.NewServer(opts...)
	RegisterJobAdminServer(s, admin)
	if hs != nil {
		healthpb.RegisterHealthServer(s, hs.Server)
	}
	reflection.Register(s)
	return s
}

// Serve blocks until ctx ends or the listener fails, then stops gracefully.
func Serve(ctx context.Context, s *grpc.Server, lis net.Listener, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("grpc.serving", "addr", lis.Addr().String())
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("grpc.shutting_down")
		s.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
