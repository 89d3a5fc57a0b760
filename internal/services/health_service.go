package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"trailpulse/pkg/contracts"
)

// HealthService aggregates liveness information across the service
// layer for the health endpoints.
type HealthService struct {
	version   string
	data      *DataService
	analytics *AnalyticsService
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus is the top-level health report.
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth is the state of one checked subsystem.
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ReadinessStatus reports whether the process can usefully answer
// queries.
type ReadinessStatus struct {
	Status   string                   `json:"status"`
	Services map[string]ServiceHealth `json:"services"`
}

// LivenessStatus reports bare process liveness.
type LivenessStatus struct {
	Status  string                 `json:"status"`
	Runtime map[string]interface{} `json:"runtime"`
}

// NewHealthService creates a health service over the data and
// analytics services.
func NewHealthService(data *DataService, analytics *AnalyticsService, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   contracts.Version,
		data:      data,
		analytics: analytics,
		startTime: time.Now(),
		logger:    logger,
	}
}

// Health runs every subsystem check and folds them into one report.
// The overall status is "ok" only when every check passes.
func (s *HealthService) Health(ctx context.Context) *HealthStatus {
	checks := map[string]ServiceHealth{
		"data":      s.checkData(ctx),
		"analytics": s.checkAnalytics(ctx),
	}

	overall := "ok"
	for _, check := range checks {
		if check.Status != "ok" {
			overall = "degraded"
			break
		}
	}

	return &HealthStatus{
		Status:    overall,
		Timestamp: time.Now().UTC(),
		Version:   s.version,
		Runtime:   s.runtimeInfo(),
		Services:  checks,
	}
}

// Readiness reports readiness for traffic. The process is ready once
// every subsystem check passes; a degraded data layer keeps the status
// at not_ready without failing the request.
func (s *HealthService) Readiness(ctx context.Context) *ReadinessStatus {
	checks := map[string]ServiceHealth{
		"data":      s.checkData(ctx),
		"analytics": s.checkAnalytics(ctx),
	}
	status := "ready"
	for _, check := range checks {
		if check.Status != "ok" {
			status = "not_ready"
			break
		}
	}
	return &ReadinessStatus{Status: status, Services: checks}
}

// Liveness reports that the process is running at all. It never checks
// subsystems; a live process with a broken data layer is still live.
func (s *HealthService) Liveness(ctx context.Context) *LivenessStatus {
	return &LivenessStatus{
		Status:  "alive",
		Runtime: s.runtimeInfo(),
	}
}

// VersionInfo reports the build and runtime identity of the process.
func (s *HealthService) VersionInfo() map[string]interface{} {
	info := s.runtimeInfo()
	info["version"] = s.version
	return info
}

// DataHealth returns the detailed data-layer report backing the
// /api/health/data endpoint.
func (s *HealthService) DataHealth(ctx context.Context) *DataHealth {
	return s.data.Health(ctx)
}

func (s *HealthService) runtimeInfo() map[string]interface{} {
	return map[string]interface{}{
		"go_version":     runtime.Version(),
		"os":             runtime.GOOS,
		"arch":           runtime.GOARCH,
		"goroutines":     runtime.NumGoroutine(),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	}
}

func (s *HealthService) checkData(ctx context.Context) ServiceHealth {
	if s.data == nil {
		return ServiceHealth{Status: "unavailable", Message: "data service not configured"}
	}
	health := s.data.Health(ctx)
	if health.RaceCount == 0 {
		return ServiceHealth{Status: "degraded", Message: "manifest lists no races"}
	}
	return ServiceHealth{
		Status:  "ok",
		Message: fmt.Sprintf("%d races, %d loaded", health.RaceCount, health.LoadedCount),
	}
}

func (s *HealthService) checkAnalytics(ctx context.Context) ServiceHealth {
	if s.analytics == nil {
		return ServiceHealth{Status: "unavailable", Message: "analytics service not configured"}
	}
	panels := s.analytics.Panels()
	if len(panels) == 0 {
		return ServiceHealth{Status: "degraded", Message: "no panels registered"}
	}
	return ServiceHealth{Status: "ok", Message: fmt.Sprintf("%d panels", len(panels))}
}
