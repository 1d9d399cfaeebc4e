package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/statement-pipeline/internal/common"
)

// RequestIDHeader is read from incoming metadata and echoed back in the response header.
const RequestIDHeader = "x-request-id"

// LoggingInterceptor tags each call with a request id and a scoped logger, then logs
// the outcome with its gRPC code.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		rid := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(RequestIDHeader); len(v) > 0 {
				rid = v[0]
			}
		}
		if rid == "" {
			rid = uuid.NewString()
		}
		log := logger.With("req_id", rid, "method", info.FullMethod)
		ctx = common.WithLogger(common.WithRequestID(ctx, rid), log)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, rid))

		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		attrs := []any{"code", code.String(), "elapsed_ms", time.Since(start).Milliseconds()}
		if err != nil {
			log.Warn("grpc.request.failed", append(attrs, "err", err)...)
		} else {
			log.Info("grpc.request", attrs...)
		}
		return resp, err
	}
}
