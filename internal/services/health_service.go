package services

import (
	"context"
	"log/slog"
	"time"

	"ssblic/internal/registry"
)

// HealthStatus is the aggregate health report served by the health endpoint.
type HealthStatus struct {
	Status    string           `json:"status"` // healthy|degraded
	Version   string           `json:"version"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
}

// Check is one dependency probe inside a health report.
type Check struct {
	Status  string `json:"status"` // up|down
	Detail  string `json:"detail,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthService probes the store the server depends on.
type HealthService struct {
	store   registry.Store
	version string
	logger  *slog.Logger
}

// NewHealthService creates a health service for the given store.
func NewHealthService(store registry.Store, version string, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{store: store, version: version, logger: logger}
}

// CheckHealth runs all dependency probes and aggregates them. Any failing
// probe degrades the overall status but the report still renders, so load
// balancers get detail instead of a bare 503.
func (h *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]Check),
	}

	start := time.Now()
	_, err := h.store.List(ctx)
	check := Check{Status: "up", Latency: time.Since(start).String()}
	if err != nil {
		check.Status = "down"
		check.Detail = err.Error()
		status.Status = "degraded"
		h.logger.Warn("health check: store probe failed", slog.String("error", err.Error()))
	}
	status.Checks["store"] = check

	return status
}
