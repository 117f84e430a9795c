package httpapi

import (
	"net/http"
	"time"

	"github.com/agentforge/coordinator/internal/store"
)

// initRequest is the body of POST /internal/init (spec.md §6).
type initRequest struct {
	SessionName          string `json:"sessionName"`
	RepoOwner            string `json:"repoOwner"`
	RepoName             string `json:"repoName"`
	Title                string `json:"title"`
	Model                string `json:"model"`
	UserID               string `json:"userId"`
	GithubLogin          string `json:"githubLogin"`
	GithubName           string `json:"githubName"`
	GithubEmail          string `json:"githubEmail"`
	GithubToken          string `json:"githubToken"`
	GithubTokenEncrypted string `json:"githubTokenEncrypted"`
	GithubTokenExpiresAt int64  `json:"githubTokenExpiresAt"`
}

// defaultHostTokenLifetime is used when the caller does not supply an
// explicit expiry for a host access token handed to /internal/init; GitHub
// user-to-server OAuth tokens are typically long-lived, but the pull-request
// path (§4.6) still needs a concrete expiry to evaluate the 60-second skew
// check against.
const defaultHostTokenLifetime = 8 * time.Hour

func (h *handlers) handleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.SessionName == "" || req.RepoOwner == "" || req.RepoName == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "sessionName, repoOwner, repoName, and userId are required")
		return
	}

	if _, err := h.app.Store.GetSession(); err == nil {
		writeError(w, http.StatusConflict, "session already initialized")
		return
	} else if err != store.ErrNotFound {
		writeError(w, http.StatusInternalServerError, "checking existing session")
		return
	}

	now := time.Now().UnixMilli()
	sessionID := store.NewID()

	sess := &store.Session{
		ID:          sessionID,
		SessionName: req.SessionName,
		Title:       req.Title,
		RepoOwner:   req.RepoOwner,
		RepoName:    req.RepoName,
		Model:       req.Model,
		Status:      store.SessionCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.app.Store.CreateSession(sess); err != nil {
		writeError(w, http.StatusInternalServerError, "creating session")
		return
	}

	accessEnc, expiresAt, err := h.sealHostToken(req.GithubToken, req.GithubTokenEncrypted, req.GithubTokenExpiresAt, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sealing host access token")
		return
	}

	owner := &store.Participant{
		ID:                 store.NewID(),
		UserID:             req.UserID,
		HostLogin:          req.GithubLogin,
		HostDisplayName:    req.GithubName,
		HostEmail:          req.GithubEmail,
		Role:               store.RoleOwner,
		HostAccessTokenEnc: accessEnc,
		HostTokenExpiresAt: expiresAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := h.app.Store.CreateParticipant(owner); err != nil {
		writeError(w, http.StatusInternalServerError, "creating owner participant")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"sessionId": sessionID,
		"status":    string(store.SessionCreated),
	})
}

// sealHostToken encrypts a plaintext host token, or passes through an
// already-encrypted one verbatim, returning the bytes to persist and the
// expiry to record. Returns (nil, 0, nil) when neither is supplied.
func (h *handlers) sealHostToken(plaintext, preEncrypted string, expiresAt, now int64) ([]byte, int64, error) {
	if expiresAt == 0 {
		expiresAt = now + defaultHostTokenLifetime.Milliseconds()
	}
	if preEncrypted != "" {
		return []byte(preEncrypted), expiresAt, nil
	}
	if plaintext == "" {
		return nil, 0, nil
	}
	enc, err := h.app.Sealer.EncryptString(plaintext)
	if err != nil {
		return nil, 0, err
	}
	return []byte(enc), expiresAt, nil
}

func (h *handlers) handleState(w http.ResponseWriter, r *http.Request) {
	sess, err := h.app.Store.GetSession()
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "no session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "getting session")
		return
	}

	sandbox, err := h.app.Store.GetSandbox()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "getting sandbox")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session": sess,
		"sandbox": sandbox,
	})
}
