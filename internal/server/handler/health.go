package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Probe checks one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// StatusSource reports runtime counters, e.g. channel or coordinator stats.
type StatusSource func() any

// HealthHandler serves liveness and status endpoints.
type HealthHandler struct {
	probes  map[string]Probe
	sources map[string]StatusSource
	started time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		probes:  make(map[string]Probe),
		sources: make(map[string]StatusSource),
		started: time.Now(),
		logger:  logHandler(logger, "health"),
	}
}

// WithProbe registers a dependency check reported by /api/health.
func (h *HealthHandler) WithProbe(name string, p Probe) *HealthHandler {
	h.probes[name] = p
	return h
}

// WithStatus registers a section of the /api/status document.
func (h *HealthHandler) WithStatus(name string, s StatusSource) *HealthHandler {
	h.sources[name] = s
	return h
}

// HealthCheck runs every probe. Any failure turns the answer into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(h.probes))
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			h.logger.WarnContext(ctx, "probe failed", slog.String("probe", name), slog.String("error", err.Error()))
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Status reports channel and coordinator counters.
// GET /api/status
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any, len(h.sources)+1)
	for name, src := range h.sources {
		out[name] = src()
	}
	out["uptime"] = time.Since(h.started).Round(time.Second).String()
	writeJSON(w, http.StatusOK, out)
}
