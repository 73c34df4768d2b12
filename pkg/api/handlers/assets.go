package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/lifecycle"
	"github.com/marmos91/dittobundle/pkg/source"
)

// LoadRequest is the body of POST /api/v1/assets/load.
type LoadRequest struct {
	Path string `json:"path"`
	Type string `json:"type,omitempty"`
	All  bool   `json:"all,omitempty"`
}

// UnloadRequest is the body of POST /api/v1/assets/unload. Either Handle or
// Path is set.
type UnloadRequest struct {
	Handle  uint64 `json:"handle,omitempty"`
	Path    string `json:"path,omitempty"`
	Type    string `json:"type,omitempty"`
	Inherit bool   `json:"inherit,omitempty"`
}

// ObjectInfo describes one loaded object. Payloads are not returned.
type ObjectInfo struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Type string `json:"type"`
	Unit string `json:"unit,omitempty"`
	Size int    `json:"size"`
}

// LoadResponse describes the outcome of a load.
type LoadResponse struct {
	Handle  uint64       `json:"handle"`
	Path    string       `json:"path"`
	Type    string       `json:"type"`
	Objects []ObjectInfo `json:"objects"`
	Missing bool         `json:"missing,omitempty"`
	Pending bool         `json:"pending,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// AssetKey is one live (path, type) record.
type AssetKey struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// AssetHandler serves asset loads and unloads. Every manager call is
// marshalled onto the manager goroutine with Do.
type AssetHandler struct {
	manager     *lifecycle.Manager
	loadTimeout time.Duration
}

// NewAssetHandler creates an asset handler. Loads that take longer than
// loadTimeout are answered with 202 and the pending handle.
func NewAssetHandler(m *lifecycle.Manager, loadTimeout time.Duration) *AssetHandler {
	return &AssetHandler{manager: m, loadTimeout: loadTimeout}
}

func toLoadResponse(res lifecycle.Result) LoadResponse {
	out := LoadResponse{
		Handle:  uint64(res.Handle),
		Path:    res.Key.Path,
		Type:    res.Key.Type.String(),
		Objects: make([]ObjectInfo, 0, len(res.Objects)),
		Missing: res.Missing(),
	}
	for _, o := range res.Objects {
		out.Objects = append(out.Objects, ObjectInfo{
			Path: o.Path,
			Name: o.Name,
			Type: o.Type.String(),
			Unit: o.Unit,
			Size: len(o.Data),
		})
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// Load handles POST /api/v1/assets/load.
//
// The load is issued asynchronously and awaited up to the load timeout:
//   - 200 with the objects (or missing=true) once it completes
//   - 422 when the load failed; the handle must still be unloaded
//   - 202 with pending=true when it did not settle in time
func (h *AssetHandler) Load(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		BadRequest(w, "path is required")
		return
	}

	ctx := r.Context()
	t := source.Type(req.Type)
	done := make(chan LoadResponse, 1)
	cb := func(res lifecycle.Result) {
		select {
		case done <- toLoadResponse(res):
		default:
		}
	}

	var handle lifecycle.Handle
	var loadErr error
	err := h.manager.Do(ctx, func() {
		if req.All {
			handle, loadErr = h.manager.LoadAllAsync(ctx, req.Path, t, cb)
		} else {
			handle, loadErr = h.manager.LoadAsync(ctx, req.Path, t, cb)
		}
	})
	if err == nil {
		err = loadErr
	}
	if err != nil {
		writeManagerError(w, err)
		return
	}

	timer := time.NewTimer(h.loadTimeout)
	defer timer.Stop()

	select {
	case resp := <-done:
		status := http.StatusOK
		if resp.Error != "" {
			status = http.StatusUnprocessableEntity
			logger.Warn("API load failed", logger.KeyPath, req.Path, logger.KeyHandle, resp.Handle, logger.KeyError, resp.Error)
		}
		writeJSON(w, status, okResponse(resp))
	case <-timer.C:
		writeJSON(w, http.StatusAccepted, okResponse(LoadResponse{
			Handle:  uint64(handle),
			Path:    req.Path,
			Type:    t.String(),
			Objects: []ObjectInfo{},
			Pending: true,
		}))
	case <-ctx.Done():
	}
}

// Unload handles POST /api/v1/assets/unload, by handle or by path.
func (h *AssetHandler) Unload(w http.ResponseWriter, r *http.Request) {
	var req UnloadRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if (req.Handle == 0) == (req.Path == "") {
		BadRequest(w, "exactly one of handle or path is required")
		return
	}

	released := 0
	err := h.manager.Do(r.Context(), func() {
		if req.Handle != 0 {
			if h.manager.UnloadAsset(lifecycle.Handle(req.Handle)) {
				released = 1
			}
			return
		}
		released = h.manager.UnloadAssetPath(req.Path, source.Type(req.Type), req.Inherit)
	})
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if req.Handle != 0 && released == 0 {
		NotFound(w, "unknown handle")
		return
	}

	writeJSON(w, http.StatusOK, okResponse(map[string]int{"released": released}))
}

// List handles GET /api/v1/assets: every live (path, type) record.
func (h *AssetHandler) List(w http.ResponseWriter, r *http.Request) {
	var keys []AssetKey
	err := h.manager.Do(r.Context(), func() {
		for _, k := range h.manager.Keys() {
			keys = append(keys, AssetKey{Path: k.Path, Type: k.Type.String()})
		}
	})
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if keys == nil {
		keys = []AssetKey{}
	}
	writeJSON(w, http.StatusOK, okResponse(keys))
}

// writeManagerError maps manager sentinels to status codes.
func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidKey):
		BadRequest(w, err.Error())
	case errors.Is(err, lifecycle.ErrClosed), errors.Is(err, lifecycle.ErrNotReady):
		Unavailable(w, err.Error())
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
	}
}
