package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nimburion/docservice/pkg/config"
	"github.com/nimburion/docservice/pkg/health"
	"github.com/nimburion/docservice/pkg/observability/logger"
	"github.com/nimburion/docservice/pkg/observability/metrics"
	"github.com/nimburion/docservice/pkg/server/middleware"
	"github.com/nimburion/docservice/pkg/server/router"
	"github.com/nimburion/docservice/pkg/version"
)

const managementIdleTimeout = 60 * time.Second

// ManagementServer serves operational endpoints on their own port:
//   - /health: liveness, always 200
//   - /ready: readiness from the health registry, 503 when unhealthy
//   - /metrics: Prometheus exposition
//   - /version: build metadata
type ManagementServer struct {
	*Server
	healthRegistry  *health.Registry
	metricsRegistry *metrics.Registry
	info            version.Info
}

// NewManagementServer registers the management endpoints on r behind the
// request id, logging and recovery middleware.
func NewManagementServer(
	cfg config.ManagementConfig,
	r router.Router,
	log logger.Logger,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
	info version.Info,
) (*ManagementServer, error) {
	if r == nil {
		return nil, fmt.Errorf("management router is required")
	}
	if healthRegistry == nil {
		return nil, fmt.Errorf("health registry is required")
	}
	if metricsRegistry == nil {
		return nil, fmt.Errorf("metrics registry is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	r.Use(
		middleware.RequestID(),
		middleware.Logging(log, "/health", "/metrics"),
		middleware.Recovery(log),
	)

	s := &ManagementServer{
		Server: NewServer(Config{
			Port:            cfg.Port,
			ReadTimeout:     cfg.ReadTimeout,
			WriteTimeout:    cfg.WriteTimeout,
			IdleTimeout:     managementIdleTimeout,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}, r, log),
		healthRegistry:  healthRegistry,
		metricsRegistry: metricsRegistry,
		info:            info,
	}

	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/metrics", s.handleMetrics)
	r.GET("/version", s.handleVersion)

	return s, nil
}

func (s *ManagementServer) handleHealth(c router.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": health.StatusHealthy,
	})
}

func (s *ManagementServer) handleReady(c router.Context) error {
	result := s.healthRegistry.Check(c.Request().Context())
	if !result.IsHealthy() {
		return c.JSON(http.StatusServiceUnavailable, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *ManagementServer) handleMetrics(c router.Context) error {
	s.metricsRegistry.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *ManagementServer) handleVersion(c router.Context) error {
	return c.JSON(http.StatusOK, s.info)
}

// Start serves until ctx is cancelled.
func (s *ManagementServer) Start(ctx context.Context) error {
	return s.Server.Start(ctx)
}

// Router returns the router for registering extra routes.
func (s *ManagementServer) Router() router.Router {
	return s.router
}
