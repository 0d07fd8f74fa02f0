// Package handlers implements the HTTP handlers behind the API router.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker reports whether one dependency is usable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// HealthResponse is the body returned by the health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HealthManager runs registered dependency checks and serves the
// liveness and readiness endpoints.
type HealthManager struct {
	mu       sync.RWMutex
	version  string
	checkers map[string]HealthChecker
}

// NewHealthManager creates a manager reporting the given build version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds a named dependency check.
func (m *HealthManager) RegisterChecker(name string, c HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

// HealthHandler runs every check and reports aggregate status. Any
// failing check yields 503 with per-check detail.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	m.mu.RLock()
	checkers := make(map[string]HealthChecker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.RUnlock()

	checks := make(map[string]string, len(checkers))
	healthy := true
	for name, c := range checkers {
		if err := c.CheckHealth(ctx); err != nil {
			checks[name] = "unhealthy"
			healthy = false
		} else {
			checks[name] = "healthy"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    "SERVICE_UNAVAILABLE",
				"message": "one or more dependency checks failed",
				"details": map[string]any{"checks": checks},
			},
		})
		return
	}

	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:  "healthy",
		Version: m.version,
		Checks:  checks,
	})
}

// LivenessHandler answers 200 whenever the process is serving.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// VersionHandler reports the build version.
func (m *HealthManager) VersionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"version": m.version})
}
