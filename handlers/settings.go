package handlers

import (
	"encoding/json"
	"net/http"

	"mcpanel/minecraft"
)

type SettingsHandler struct {
	mgr *minecraft.Manager
}

func NewSettingsHandler(mgr *minecraft.Manager) *SettingsHandler {
	return &SettingsHandler{mgr: mgr}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, _ *http.Request) {
	settings := h.mgr.GetSettings()
	respondJSON(w, http.StatusOK, settings)
}

func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req minecraft.SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// the launch command stays fixed until a panel login is configured
	if !h.mgr.AuthEnabled() && req.ChangesLaunchCommand(h.mgr.GetSettings()) {
		respondError(w, http.StatusForbidden, "Configure a panel login before changing javaPath or extraJvmArgs")
		return
	}
	settings, err := h.mgr.UpdateAppSettings(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, settings)
}
