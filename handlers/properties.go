package handlers

import (
	"encoding/json"
	"net/http"

	"mcpanel/minecraft"
)

// PropertiesHandler edits server.properties
type PropertiesHandler struct {
	mgr *minecraft.Manager
}

func NewPropertiesHandler(mgr *minecraft.Manager) *PropertiesHandler {
	return &PropertiesHandler{mgr: mgr}
}

// Get handles GET /api/properties
func (h *PropertiesHandler) Get(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.mgr.Properties())
}

// Update handles PUT /api/properties with a flat JSON object of strings
func (h *PropertiesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	props, err := h.mgr.UpdateProperties(values)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, props)
}

// GetForm handles GET /api/properties/form
func (h *PropertiesHandler) GetForm(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.mgr.ServerSettings())
}

// UpdateForm handles PUT /api/properties/form
func (h *PropertiesHandler) UpdateForm(w http.ResponseWriter, r *http.Request) {
	var req minecraft.ServerSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	settings, err := h.mgr.UpdateServerSettings(req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}
