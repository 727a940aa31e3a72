package grpcserver

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/logging"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/usecase"
)

// ReconcilerService is the health service name reported for the reconciliation loop.
const ReconcilerService = "plantcheck.Reconciler"

// HealthServer exposes the standard gRPC health protocol. The reconciler is
// SERVING after a cycle whose plant listing succeeded.
type HealthServer struct {
	health *health.Server
	server *grpc.Server
	logger *zap.Logger
}

// NewHealthServer builds a server reporting NOT_SERVING until the first cycle finishes.
func NewHealthServer(logger *zap.Logger) *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus(ReconcilerService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{health: hs, server: srv, logger: logger.Named("grpc_health")}
}

// ObserveCycle updates the reconciler status from a finished cycle.
func (h *HealthServer) ObserveCycle(report *usecase.CycleReport) {
	status := healthpb.HealthCheckResponse_SERVING
	if !report.ListingSucceeded() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus(ReconcilerService, status)
}

// Check answers a health check in-process.
func (h *HealthServer) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		err := h.server.Serve(lis)
		if errors.Is(err, grpc.ErrServerStopped) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			wrapped := logging.NewOperationError("grpcserver.serve", "", 0, err)
			h.logger.Error("grpc health server failed", zap.Error(wrapped))
			return wrapped
		}
		return nil
	case <-ctx.Done():
		h.health.Shutdown()
		h.server.GracefulStop()
		return <-errCh
	}
}
