package handlers

import (
	"net/http"

	"github.com/marmos91/dittobundle/pkg/lifecycle"
)

// StatusHandler serves read-only snapshots of manager state.
type StatusHandler struct {
	manager *lifecycle.Manager
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(m *lifecycle.Manager) *StatusHandler {
	return &StatusHandler{manager: m}
}

// Units handles GET /api/v1/units.
func (h *StatusHandler) Units(w http.ResponseWriter, r *http.Request) {
	var units []lifecycle.UnitInfo
	if err := h.manager.Do(r.Context(), func() { units = h.manager.Units() }); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(units))
}

// Stats handles GET /api/v1/stats.
func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var stats lifecycle.Stats
	if err := h.manager.Do(r.Context(), func() { stats = h.manager.Stats() }); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(stats))
}
