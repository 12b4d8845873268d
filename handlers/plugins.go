package handlers

import (
	"net/http"

	"mcpanel/minecraft"
)

// PluginHandler handles plugin-related REST endpoints
type PluginHandler struct {
	mgr *minecraft.Manager
}

// NewPluginHandler creates a new PluginHandler
func NewPluginHandler(mgr *minecraft.Manager) *PluginHandler {
	return &PluginHandler{mgr: mgr}
}

// List handles GET /api/plugins
func (h *PluginHandler) List(w http.ResponseWriter, _ *http.Request) {
	plugins, err := h.mgr.ListPlugins()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, plugins)
}

// Upload handles POST /api/plugins (multipart form, field "file")
func (h *PluginHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	plugin, err := h.mgr.UploadPlugin(header.Filename, file)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, plugin)
}

// Delete handles DELETE /api/plugins/{name}
func (h *PluginHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.DeletePlugin(r.PathValue("name")); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Toggle handles PUT /api/plugins/{name}/toggle
func (h *PluginHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	plugin, err := h.mgr.TogglePlugin(r.PathValue("name"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plugin)
}
