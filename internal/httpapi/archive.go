package httpapi

import (
	"net/http"
	"time"

	"github.com/agentforge/coordinator/internal/store"
)

// archiveRequest is the body of POST /internal/archive and
// POST /internal/unarchive.
type archiveRequest struct {
	UserID string `json:"userId"`
}

func (h *handlers) handleArchive(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, store.SessionArchived)
}

func (h *handlers) handleUnarchive(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, store.SessionActive)
}

func (h *handlers) setArchived(w http.ResponseWriter, r *http.Request, status store.SessionStatus) {
	var req archiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if _, err := h.app.Store.GetParticipantByUserID(req.UserID); err == store.ErrNotFound {
		writeError(w, http.StatusUnauthorized, "userId does not match an existing participant")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "looking up participant")
		return
	}

	now := time.Now().UnixMilli()
	if err := h.app.Store.SetSessionStatus(status, now); err != nil {
		writeError(w, http.StatusInternalServerError, "updating session status")
		return
	}

	h.app.Hub.Broadcast("session_status", map[string]string{"status": string(status)})

	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}
