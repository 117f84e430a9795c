package httpapi

import (
	"net/http"

	"github.com/agentforge/coordinator/internal/store"
)

func (h *handlers) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.app.Store.ListArtifacts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing artifacts")
		return
	}
	if artifacts == nil {
		artifacts = []*store.Artifact{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"artifacts": artifacts})
}
