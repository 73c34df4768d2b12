package handlers

import (
	"net/http"

	"github.com/marmos91/dittobundle/pkg/lifecycle"
)

// HealthHandler handles health check endpoints.
//
// Health endpoints provide:
//   - Liveness probe: is the process serving HTTP?
//   - Readiness probe: has the manager bootstrapped and is its loop alive?
type HealthHandler struct {
	manager *lifecycle.Manager
}

// NewHealthHandler creates a new health handler. A nil manager makes the
// readiness probe fail.
func NewHealthHandler(m *lifecycle.Manager) *HealthHandler {
	return &HealthHandler{manager: m}
}

// Liveness handles GET /health. It succeeds as long as the HTTP server
// responds.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	data := map[string]string{"service": "dittobundle"}
	if h.manager != nil {
		data["instance_id"] = h.manager.ID()
	}
	writeJSON(w, http.StatusOK, healthyResponse(data))
}

// Readiness handles GET /health/ready.
//
// Returns 503 when there is no manager, when its loop does not answer
// (closed or stopped) or while remote bootstrap is still pending.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("manager not initialized"))
		return
	}

	var stats lifecycle.Stats
	if err := h.manager.Do(r.Context(), func() { stats = h.manager.Stats() }); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}
	if !stats.Ready {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("manifest bootstrap pending"))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"instance_id": stats.InstanceID,
		"units":       stats.Units,
		"entries":     stats.Entries,
	}))
}
