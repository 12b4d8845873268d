package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"mcpanel/minecraft"
)

// ServerHandler handles the server lifecycle endpoints
type ServerHandler struct {
	mgr *minecraft.Manager
}

// NewServerHandler creates a new ServerHandler
func NewServerHandler(mgr *minecraft.Manager) *ServerHandler {
	return &ServerHandler{mgr: mgr}
}

// Health handles GET /api/health
func (h *ServerHandler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status handles GET /api/server
func (h *ServerHandler) Status(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.mgr.Status())
}

// Start handles POST /api/server/start
func (h *ServerHandler) Start(w http.ResponseWriter, _ *http.Request) {
	if err := h.mgr.Start(); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.mgr.Status())
}

// Stop handles POST /api/server/stop
func (h *ServerHandler) Stop(w http.ResponseWriter, _ *http.Request) {
	if err := h.mgr.Stop(); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.mgr.Status())
}

// Kill handles POST /api/server/kill
func (h *ServerHandler) Kill(w http.ResponseWriter, _ *http.Request) {
	if err := h.mgr.Kill(); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.mgr.Status())
}

// Command handles POST /api/server/command
func (h *ServerHandler) Command(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.mgr.SendCommand(req.Command); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// respondJSON writes a JSON response with the given status code
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes a JSON error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps manager errors onto status codes
func respondErr(w http.ResponseWriter, err error) {
	respondError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, minecraft.ErrAlreadyRunning),
		errors.Is(err, minecraft.ErrServerBusy),
		errors.Is(err, minecraft.ErrAlreadyWhitelisted),
		errors.Is(err, minecraft.ErrPluginExists),
		errors.Is(err, minecraft.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, minecraft.ErrJarNotFound),
		errors.Is(err, minecraft.ErrPluginNotFound),
		errors.Is(err, minecraft.ErrNotWhitelisted),
		errors.Is(err, minecraft.ErrPlayerNotFound),
		errors.Is(err, minecraft.ErrVersionUnavailable):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
