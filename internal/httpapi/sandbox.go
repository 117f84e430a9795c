package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/agentforge/coordinator/internal/lifecycle"
)

// handleStop best-effort sends a stop command to the sandbox socket; a
// disconnected sandbox is not an error here, matching spec.md §6's
// "best-effort send" wording.
func (h *handlers) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Hub.SendStop(); err != nil {
		slog.Warn("sending stop command failed", slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSandboxEvent ingests a sandbox event posted over HTTP instead of the
// WebSocket (spec.md §6: "used when the sandbox posts instead of using the
// socket"). The router owns persistence, dispatch, and broadcasting.
func (h *handlers) handleSandboxEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.app.Events.Dispatch(r.Context(), json.RawMessage(body)); err != nil {
		writeError(w, http.StatusInternalServerError, "dispatching sandbox event")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// verifySandboxTokenRequest is the body of POST /internal/verify-sandbox-token.
type verifySandboxTokenRequest struct {
	Token string `json:"token"`
}

// handleVerifySandboxToken implements spec.md §6's
// "true iff token == sandbox.auth_token AND status ∉ {stopped, stale}".
func (h *handlers) handleVerifySandboxToken(w http.ResponseWriter, r *http.Request) {
	var req verifySandboxTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sandbox, err := h.app.Store.GetSandbox()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "getting sandbox")
		return
	}

	valid := req.Token != "" &&
		req.Token == sandbox.AuthToken &&
		sandbox.Status != string(lifecycle.StatusStopped) &&
		sandbox.Status != string(lifecycle.StatusStale)

	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}
