// Package grpc serves the operational gRPC endpoint: the standard health
// protocol and server reflection.
package grpc

import (
	"context"
	"time"

	"github.com/bookstore/services/archive/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
)

const requestIDHeader = "x-request-id"

// NewServer builds a gRPC server with the health service and reflection registered
func NewServer(health *HealthServer, log *zap.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(LoggingInterceptor(log)),
	)
	grpc_health_v1.RegisterHealthServer(s, health)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(s)
	return s
}

// LoggingInterceptor logs every unary call under the caller's request id, or
// a fresh one when none was sent.
func LoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		id := incomingRequestID(ctx)
		ctx = events.WithCorrelationID(ctx, id)

		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("correlation_id", id),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			log.Error("gRPC request failed", append(fields, zap.Error(err))...)
		} else {
			log.Debug("gRPC request completed", fields...)
		}

		return resp, err
	}
}

func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(requestIDHeader); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return uuid.NewString()
}
