package handlers

import (
	"encoding/json"
	"net/http"

	"mcpanel/minecraft"
)

// PlayerHandler sends the canned player commands
type PlayerHandler struct {
	mgr *minecraft.Manager
}

// NewPlayerHandler creates a new PlayerHandler
func NewPlayerHandler(mgr *minecraft.Manager) *PlayerHandler {
	return &PlayerHandler{mgr: mgr}
}

func readReason(r *http.Request) string {
	var req struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	return req.Reason
}

// Ban handles POST /api/players/{name}/ban
func (h *PlayerHandler) Ban(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.mgr.BanPlayer(name, readReason(r)); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "banned", "player": name})
}

// Kick handles POST /api/players/{name}/kick
func (h *PlayerHandler) Kick(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.mgr.KickPlayer(name, readReason(r)); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "kicked", "player": name})
}

// Pardon handles POST /api/players/{name}/pardon
func (h *PlayerHandler) Pardon(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.mgr.PardonPlayer(name); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "pardoned", "player": name})
}
