package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"mcpanel/minecraft"
)

type WhitelistHandler struct {
	mgr *minecraft.Manager
}

func NewWhitelistHandler(mgr *minecraft.Manager) *WhitelistHandler {
	return &WhitelistHandler{mgr: mgr}
}

// List handles GET /api/whitelist
func (h *WhitelistHandler) List(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.mgr.Whitelist())
}

// Add handles POST /api/whitelist. Without a uuid the name is resolved
// through playerdb.
func (h *WhitelistHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		UUID string `json:"uuid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var (
		entry minecraft.WhitelistEntry
		err   error
	)
	if strings.TrimSpace(req.UUID) == "" {
		entry, err = h.mgr.AddWhitelistByName(r.Context(), req.Name)
	} else {
		entry, err = h.mgr.AddWhitelist(req.Name, req.UUID)
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

// Remove handles DELETE /api/whitelist/{uuid}
func (h *WhitelistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	entry, err := h.mgr.RemoveWhitelist(r.PathValue("uuid"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}
