package observability

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	ServiceName    = "weather-gateway"
	ServiceVersion = "1.0.0"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthCheckFunc probes one dependency. It accepts plain functions to avoid
// import cycles with the packages being checked.
type HealthCheckFunc func(ctx context.Context) (bool, error)

// HealthChecker runs registered dependency checks for readiness
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheckFunc
	timeout time.Duration
	now     func() time.Time
}

// NewHealthChecker creates a checker whose probes share timeout
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		checks:  make(map[string]HealthCheckFunc),
		timeout: timeout,
		now:     time.Now,
	}
}

// Register adds or replaces the check for name
func (h *HealthChecker) Register(name string, check HealthCheckFunc) {
	if check == nil {
		return
	}
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

// Liveness reports that the process is up without touching dependencies
func (h *HealthChecker) Liveness() HealthStatus {
	return HealthStatus{
		Status:    "healthy",
		Service:   ServiceName,
		Version:   ServiceVersion,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
}

// Readiness runs every registered check in name order and reports whether
// all of them passed
func (h *HealthChecker) Readiness(ctx context.Context) (HealthStatus, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheckFunc, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	dependencies := make(map[string]DependencyStatus, len(names))
	allHealthy := true
	for _, name := range names {
		start := time.Now()
		healthy, err := checks[name](ctx)
		latency := time.Since(start).Milliseconds()

		status := "healthy"
		message := ""
		if err != nil || !healthy {
			status = "unhealthy"
			allHealthy = false
			if err != nil {
				message = err.Error()
			}
		}

		dependencies[name] = DependencyStatus{
			Status:    status,
			Message:   message,
			LatencyMs: latency,
		}
	}

	status := HealthStatus{
		Status:       "ready",
		Service:      ServiceName,
		Version:      ServiceVersion,
		Timestamp:    h.now().UTC().Format(time.RFC3339),
		Dependencies: dependencies,
	}
	if !allHealthy {
		status.Status = "not_ready"
	}
	return status, allHealthy
}
