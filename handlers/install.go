package handlers

import (
	"encoding/json"
	"net/http"

	"mcpanel/minecraft"
)

// InstallHandler handles server jar installation
type InstallHandler struct {
	mgr *minecraft.Manager
}

func NewInstallHandler(mgr *minecraft.Manager) *InstallHandler {
	return &InstallHandler{mgr: mgr}
}

// Status handles GET /api/install
func (h *InstallHandler) Status(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.mgr.InstallStatus())
}

// Versions handles GET /api/versions?source=bundled|vanilla
func (h *InstallHandler) Versions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.mgr.Versions(r.Context(), r.URL.Query().Get("source"))
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, versions)
}

// Install handles POST /api/install
func (h *InstallHandler) Install(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source  string `json:"source"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	version, err := h.mgr.Install(r.Context(), req.Source, req.Version)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"version": version,
		"status":  h.mgr.InstallStatus(),
	})
}
