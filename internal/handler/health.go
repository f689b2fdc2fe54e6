package handler

import (
	"context"
	"net/http"
	"time"
)

// readyTimeout bounds the dependency pings made by /readyz.
const readyTimeout = 5 * time.Second

// HealthChecker is anything that can be pinged for readiness.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type dependency struct {
	name    string
	checker HealthChecker
}

// HealthHandler serves the liveness, readiness and status endpoints.
type HealthHandler struct {
	deps      []dependency
	startedAt time.Time
	now       func() time.Time
}

// NewHealthHandler creates a HealthHandler. A nil db or cache is reported
// as "not configured" and does not fail readiness.
func NewHealthHandler(db, cache HealthChecker) *HealthHandler {
	return &HealthHandler{
		deps: []dependency{
			{name: "postgres", checker: db},
			{name: "redis", checker: cache},
		},
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// HealthResponse is the body of the probe endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// StatusResponse is the body of GET /health.
type StatusResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	// Uptime is seconds since the process started.
	Uptime float64 `json:"uptime"`
}

// Health reports that the process is up and how long it has run.
//
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:    "OK",
		Timestamp: now.UTC(),
		Uptime:    now.Sub(h.startedAt).Seconds(),
	})
}

// Healthz is the liveness probe. It never touches dependencies.
//
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz pings Postgres and Redis and answers 503 if either is down.
//
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.deps))}
	code := http.StatusOK

	for _, dep := range h.deps {
		result := probe(ctx, dep.checker)
		resp.Checks[dep.name] = result
		if result != "ok" && result != "not configured" {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, resp)
}

func probe(ctx context.Context, c HealthChecker) string {
	if c == nil {
		return "not configured"
	}
	if err := c.Ping(ctx); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
