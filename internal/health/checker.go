// Package health exposes liveness/readiness/health HTTP handlers, in the
// shape of the ingestion service's checker.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Pinger is satisfied by anything whose connectivity can be probed with a
// bounded-timeout context (the Postgres pool, an adapter).
type Pinger interface {
	IsHealthy(ctx context.Context) bool
}

// Checker aggregates named Pinger dependencies into health/live/ready
// handlers.
type Checker struct {
	logger zerolog.Logger
	checks map[string]Pinger
}

// NewChecker returns an empty Checker; call AddCheck for each dependency.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		logger: logger.With().Str("component", "health-checker").Logger(),
		checks: make(map[string]Pinger),
	}
}

// AddCheck registers a named dependency to probe on /health and /health/ready.
func (c *Checker) AddCheck(name string, p Pinger) {
	c.checks[name] = p
}

// HealthResponse is the /health JSON body.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components"`
}

// HealthHandler reports per-dependency health.
func (c *Checker) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := make(map[string]string, len(c.checks))
	overall := "healthy"
	for name, p := range c.checks {
		if p.IsHealthy(ctx) {
			components[name] = "healthy"
		} else {
			components[name] = "unhealthy"
			overall = "degraded"
		}
	}

	resp := HealthResponse{
		Status:     overall,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}

	w.Header().Set("Content-Type", "application/json")
	if overall != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// LiveHandler reports 200 whenever the process is running.
func (c *Checker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadyHandler reports 200 only when every registered dependency is
// healthy.
func (c *Checker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready := true
	for _, p := range c.checks {
		if !p.IsHealthy(ctx) {
			ready = false
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "not_ready",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
