package grpc

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Additional-Code/copra/internal/database"
)

// ServiceName is the name reported alongside the overall ("") status.
const ServiceName = "copra.orders"

const (
	healthService  = "/grpc.health.v1.Health/"
	healthInterval = 10 * time.Second
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health publishes grpc.health.v1 status derived from database reachability.
type Health struct {
	server   *health.Server
	db       Pinger
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHealth registers the health service on srv.
func NewHealth(srv *grpc.Server, conns *database.Connections, logger *zap.Logger) *Health {
	h := newHealth(conns, logger)
	healthpb.RegisterHealthServer(srv, h.server)
	return h
}

func newHealth(db Pinger, logger *zap.Logger) *Health {
	return &Health{
		server:   health.NewServer(),
		db:       db,
		logger:   logger,
		interval: healthInterval,
	}
}

// Check pings the database once and updates the published status.
func (h *Health) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("database unreachable; reporting NOT_SERVING", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
	return status
}

func (h *Health) start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	h.Check(ctx)

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Check(ctx)
			}
		}
	}()
	return nil
}

func (h *Health) stop(ctx context.Context) error {
	if h.cancel == nil {
		return nil
	}
	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.server.Shutdown()
	return nil
}

// RunHealth keeps the health status current while the app runs.
func RunHealth(lc fx.Lifecycle, h *Health) {
	lc.Append(fx.Hook{OnStart: h.start, OnStop: h.stop})
}
