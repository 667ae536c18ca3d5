package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/repclub/gymgate/internal/adapter/outbound/memory"
	"github.com/repclub/gymgate/internal/service"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies component health.
type HealthChecker struct {
	rateLimiter  *memory.MemoryRateLimiter
	lockouts     *memory.LockoutStore
	auditService *service.AuditService
	sessions     *service.SessionRegistry
	metrics      *Metrics
	version      string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(
	rateLimiter *memory.MemoryRateLimiter,
	lockouts *memory.LockoutStore,
	auditService *service.AuditService,
	sessions *service.SessionRegistry,
	version string,
) *HealthChecker {
	return &HealthChecker{
		rateLimiter:  rateLimiter,
		lockouts:     lockouts,
		auditService: auditService,
		sessions:     sessions,
		version:      version,
	}
}

// withMetrics makes Check refresh the gauges it can observe.
func (h *HealthChecker) withMetrics(m *Metrics) *HealthChecker {
	h.metrics = m
	return h
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.rateLimiter != nil {
		keys := h.rateLimiter.Size()
		checks["rate_limiter"] = fmt.Sprintf("ok: %d windows", keys)
		if h.metrics != nil {
			h.metrics.RateLimitKeys.Set(float64(keys))
		}
	} else {
		checks["rate_limiter"] = "not configured"
	}

	if h.lockouts != nil {
		checks["lockouts"] = fmt.Sprintf("ok: %d identifiers", h.lockouts.Size())
	} else {
		checks["lockouts"] = "not configured"
	}

	if h.sessions != nil {
		n := h.sessions.Len()
		checks["sessions"] = fmt.Sprintf("ok: %d", n)
		if h.metrics != nil {
			h.metrics.ActiveSessions.Set(float64(n))
		}
	}

	if h.auditService != nil {
		depth := h.auditService.ChannelDepth()
		capacity := h.auditService.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		// Above 90% the audit worker is not keeping up.
		if percentFull > 90 {
			checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		drops := h.auditService.DroppedEvents()
		if drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
		if h.metrics != nil {
			h.metrics.AuditDropsTotal.Set(float64(drops))
		}
	} else {
		checks["audit"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}

// healthHandler is the fallback when no checker is configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
}
