package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Probe checks one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// HealthChecker aggregates dependency probes for the readiness endpoint.
type HealthChecker struct {
	mu     sync.Mutex
	probes map[string]Probe
}

// NewHealthChecker creates an empty health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{probes: make(map[string]Probe)}
}

// Register adds a named dependency probe.
func (h *HealthChecker) Register(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

// RegisterRedis registers a probe that pings the given Redis client.
func (h *HealthChecker) RegisterRedis(client *redis.Client) {
	h.Register("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ms,omitempty"`
}

// Liveness returns a simple liveness probe (always 200 while the server runs)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness checks every registered dependency; 503 when any is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check runs all probes and aggregates the result
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.Lock()
	names := make([]string, 0, len(h.probes))
	probes := make(map[string]Probe, len(h.probes))
	for name, probe := range h.probes {
		names = append(names, name)
		probes[name] = probe
	}
	h.mu.Unlock()
	sort.Strings(names)

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus, len(names)),
	}

	for _, name := range names {
		start := time.Now()
		err := probes[name](ctx)
		dep := DependencyStatus{
			Status:  StatusHealthy,
			Latency: time.Since(start) / time.Millisecond,
		}
		if err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
			status.Status = StatusUnhealthy
		}
		status.Dependencies[name] = dep
	}

	return status
}
