package httpapi

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/agentforge/coordinator/internal/store"
)

// promptRequest is the body of POST /internal/prompt (spec.md §6).
type promptRequest struct {
	Content         string `json:"content"`
	AuthorID        string `json:"authorId"`
	Source          string `json:"source"`
	Attachments     string `json:"attachments"`
	CallbackContext string `json:"callbackContext"`
}

func (h *handlers) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" || req.AuthorID == "" {
		writeError(w, http.StatusBadRequest, "content and authorId are required")
		return
	}

	source := store.MessageSource(req.Source)
	switch source {
	case store.SourceWeb, store.SourceSlack, store.SourceExtension, store.SourceGithub:
	default:
		writeError(w, http.StatusBadRequest, "source must be one of web, slack, extension, github")
		return
	}

	msg := &store.Message{
		ID:                  store.NewID(),
		AuthorID:            req.AuthorID,
		Content:             req.Content,
		Source:              source,
		AttachmentsJSON:     req.Attachments,
		CallbackContextJSON: req.CallbackContext,
		CreatedAt:           time.Now().UnixMilli(),
	}

	if _, err := h.app.Store.EnqueueMessage(msg); err != nil {
		writeError(w, http.StatusInternalServerError, "enqueueing message")
		return
	}

	if err := h.app.Queue.Drive(r.Context()); err != nil {
		slog.Error("driving queue after prompt enqueue failed", slog.Any("error", err))
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"messageId": msg.ID,
		"status":    "queued",
	})
}

func (h *handlers) handleMessages(w http.ResponseWriter, r *http.Request) {
	cursor := parseCursor(r, "cursor")
	limit := parseLimit(r, "limit", 100)
	status := store.MessageStatus(r.URL.Query().Get("status"))

	msgs, err := h.app.Store.ListMessages(cursor, limit, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing messages")
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}

	nextCursor := cursor
	if len(msgs) > 0 {
		nextCursor = msgs[len(msgs)-1].CreatedAt
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"cursor":   nextCursor,
	})
}

// parseCursor parses a newest-first pagination cursor, defaulting to "no
// cursor yet" (the maximum int64, so the first page's strictly-less-than
// scan returns everything).
func parseCursor(r *http.Request, param string) int64 {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return math.MaxInt64
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return math.MaxInt64
	}
	return v
}

func parseLimit(r *http.Request, param string, max int) int {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return max
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 || v > max {
		return max
	}
	return v
}
