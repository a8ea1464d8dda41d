package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/upstream"
	"github.com/Sentinel-Gate/toolproxy/internal/service"
)

// HealthResponse is the JSON body of /health.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// ServerLister reports the connection state of configured servers.
type ServerLister interface {
	Status() []service.ServerStatus
}

// AuditMonitor exposes the audit buffer state.
type AuditMonitor interface {
	ChannelDepth() int
	ChannelCapacity() int
	DroppedRecords() int64
}

// HealthChecker verifies component health.
type HealthChecker struct {
	servers ServerLister
	audit   AuditMonitor
	version string
}

// NewHealthChecker creates a HealthChecker. Either component may be nil.
func NewHealthChecker(servers ServerLister, audit AuditMonitor, version string) *HealthChecker {
	return &HealthChecker{servers: servers, audit: audit, version: version}
}

// Check runs every check. The proxy is unhealthy when servers are configured
// but none is connected, or when the audit buffer is over 90% full.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.servers != nil {
		statuses := h.servers.Status()
		connected := 0
		for _, s := range statuses {
			check := string(s.Status)
			if s.LastError != "" {
				check += ": " + s.LastError
			}
			checks["server:"+s.ID] = check
			if s.Status == upstream.StatusConnected {
				connected++
			}
		}
		if len(statuses) > 0 && connected == 0 {
			healthy = false
		}
		checks["servers"] = fmt.Sprintf("%d/%d connected", connected, len(statuses))
	} else {
		checks["servers"] = "not configured"
	}

	if h.audit != nil {
		depth := h.audit.ChannelDepth()
		capacity := h.audit.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}
		if percentFull > 90 {
			checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}
		if drops := h.audit.DroppedRecords(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["audit"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler serves the health check as JSON, 503 when unhealthy.
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
