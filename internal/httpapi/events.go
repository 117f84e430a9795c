package httpapi

import (
	"net/http"

	"github.com/agentforge/coordinator/internal/store"
)

func (h *handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	cursor := parseCursor(r, "cursor")
	limit := parseLimit(r, "limit", 200)
	eventType := store.EventType(r.URL.Query().Get("type"))
	messageID := r.URL.Query().Get("message_id")

	events, nextCursor, err := h.app.Store.ListEvents(cursor, limit, eventType, messageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing events")
		return
	}
	if events == nil {
		events = []*store.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"cursor": nextCursor,
	})
}
