package server

import (
	"context"
	"net/http"
	"time"

	"hospital-backend/internal/db"
	"hospital-backend/internal/web"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

const (
	readyTimeout  = 2 * time.Second
	healthTimeout = 5 * time.Second
)

// Health represents the complete health check response
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single system component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
}

// HandleHealth reports database and storage health. Unhealthy is 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	status := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	_ = web.WriteJSON(w, status, health)
}

// HandleReady is 200 only when the database connection is established and
// answers a ping.
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if s.database == nil || s.database.State() != db.StateConnected {
		_ = web.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "not_ready",
			"message": "database not connected",
		})
		return
	}
	if err := s.database.Ping(ctx); err != nil {
		_ = web.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "not_ready",
			"message": "database unavailable",
		})
		return
	}

	_ = web.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// HandleLive always returns OK while the process is running.
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	_ = web.WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) checkHealth(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	components := map[string]ComponentHealth{
		"database": s.checkDatabaseHealth(ctx),
		"storage":  s.checkStorageHealth(ctx),
	}
	return Health{
		Status:     determineOverallHealth(components),
		Timestamp:  time.Now(),
		Version:    s.version,
		Components: components,
	}
}

func (s *Server) checkDatabaseHealth(ctx context.Context) ComponentHealth {
	if s.database == nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "database not configured"}
	}
	if state := s.database.State(); state != db.StateConnected {
		return ComponentHealth{Status: ComponentStatusDown, Message: "database " + state.String()}
	}

	start := time.Now()
	if err := s.database.Ping(ctx); err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "database ping failed: " + err.Error()}
	}
	latency := time.Since(start).Milliseconds()

	if latency > 1000 {
		return ComponentHealth{Status: ComponentStatusDegraded, Message: "database latency high", LatencyMs: float64(latency)}
	}
	return ComponentHealth{Status: ComponentStatusUp, Message: "database healthy", LatencyMs: float64(latency)}
}

// checkStorageHealth probes the object storage bucket. Unconfigured storage
// only disables uploads, so it degrades rather than fails the service.
func (s *Server) checkStorageHealth(ctx context.Context) ComponentHealth {
	if s.storage == nil {
		return ComponentHealth{Status: ComponentStatusDegraded, Message: "storage not configured, uploads disabled"}
	}

	start := time.Now()
	if err := s.storage.Check(ctx); err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "storage check failed: " + err.Error()}
	}
	latency := time.Since(start).Milliseconds()

	if latency > 2000 {
		return ComponentHealth{Status: ComponentStatusDegraded, Message: "storage latency high", LatencyMs: float64(latency)}
	}
	return ComponentHealth{Status: ComponentStatusUp, Message: "storage healthy", LatencyMs: float64(latency)}
}

// determineOverallHealth calculates overall health from component statuses
func determineOverallHealth(components map[string]ComponentHealth) HealthStatus {
	var down, degraded int
	for _, c := range components {
		switch c.Status {
		case ComponentStatusDown:
			down++
		case ComponentStatusDegraded:
			degraded++
		}
	}
	if down > 0 {
		return HealthStatusUnhealthy
	}
	if degraded > 0 {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}
