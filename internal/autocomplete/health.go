package autocomplete

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/geosuggest/geosuggest/internal/cache"
	"github.com/geosuggest/geosuggest/internal/feedback"
)

// Component health states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// pinger is implemented by cache backends that can check connectivity.
type pinger interface {
	Ping(ctx context.Context) error
}

// statser is implemented by feedback stores that can report row counts.
type statser interface {
	Stats(ctx context.Context) (feedback.Stats, error)
}

// HealthChecker provides health check capabilities.
type HealthChecker struct {
	cache    cache.Cache
	feedback FeedbackStore
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker(c cache.Cache, fb FeedbackStore) *HealthChecker {
	return &HealthChecker{
		cache:    c,
		feedback: fb,
	}
}

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status     string               `json:"status"` // healthy, degraded, unhealthy
	Timestamp  time.Time            `json:"timestamp"`
	Version    string               `json:"version,omitempty"`
	Uptime     string               `json:"uptime,omitempty"`
	Components map[string]Component `json:"components"`
}

// Component represents a component's health.
type Component struct {
	Status  string `json:"status"` // healthy, degraded, unhealthy
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms,omitempty"`
}

// Check performs a full health check. A missing cache degrades the service;
// an unreachable feedback store makes it unhealthy.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Components: make(map[string]Component),
	}

	cacheHealth := h.checkCache(ctx)
	status.Components["cache"] = cacheHealth
	if cacheHealth.Status != StatusHealthy {
		status.Status = StatusDegraded
	}

	feedbackHealth := h.checkFeedback(ctx)
	status.Components["feedback"] = feedbackHealth
	if feedbackHealth.Status == StatusUnhealthy {
		status.Status = StatusUnhealthy
	}

	return status
}

// checkCache reports the cache backend.
func (h *HealthChecker) checkCache(ctx context.Context) Component {
	if h.cache == nil || h.cache.Name() == "none" {
		return Component{
			Status:  StatusDegraded,
			Message: "result caching disabled",
		}
	}

	p, ok := h.cache.(pinger)
	if !ok {
		return Component{Status: StatusHealthy, Message: h.cache.Name()}
	}

	start := time.Now()
	err := p.Ping(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Component{
			Status:  StatusDegraded,
			Message: h.cache.Name() + ": " + err.Error(),
			Latency: latency,
		}
	}
	return Component{Status: StatusHealthy, Message: h.cache.Name(), Latency: latency}
}

// checkFeedback checks feedback store connectivity.
func (h *HealthChecker) checkFeedback(ctx context.Context) Component {
	if h.feedback == nil {
		return Component{
			Status:  StatusUnhealthy,
			Message: "feedback store not configured",
		}
	}

	start := time.Now()
	err := h.feedback.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Component{
			Status:  StatusUnhealthy,
			Message: err.Error(),
			Latency: latency,
		}
	}

	msg := "connected"
	if st, ok := h.feedback.(statser); ok {
		if stats, err := st.Stats(ctx); err == nil {
			msg = fmt.Sprintf("connected: %d selections, %d popularity rows", stats.Selections, stats.PopularityRows)
		}
	}

	return Component{
		Status:  StatusHealthy,
		Message: msg,
		Latency: latency,
	}
}

// HealthHandler handles health check HTTP requests.
type HealthHandler struct {
	checker   *HealthChecker
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checker *HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		checker:   checker,
		startTime: time.Now(),
		version:   version,
	}
}

// HandleHealth handles GET /healthz. Degraded still answers 200.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.checker.Check(ctx)
	status.Version = h.version
	status.Uptime = time.Since(h.startTime).Round(time.Second).String()

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(status)
}

// HandleVersion handles GET /version.
func (h *HealthHandler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version": h.version,
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// RegisterRoutes registers health routes with the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("GET /version", h.HandleVersion)
}
