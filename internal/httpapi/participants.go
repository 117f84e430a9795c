package httpapi

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/agentforge/coordinator/internal/store"
)

func (h *handlers) handleParticipantsList(w http.ResponseWriter, r *http.Request) {
	participants, err := h.app.Store.ListParticipants()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing participants")
		return
	}
	if participants == nil {
		participants = []*store.Participant{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"participants": participants})
}

// participantRequest is the body of POST /internal/participants.
type participantRequest struct {
	UserID               string `json:"userId"`
	Role                 string `json:"role"`
	GithubLogin          string `json:"githubLogin"`
	GithubName           string `json:"githubName"`
	GithubEmail          string `json:"githubEmail"`
	GithubToken          string `json:"githubToken"`
	GithubTokenEncrypted string `json:"githubTokenEncrypted"`
	GithubTokenExpiresAt int64  `json:"githubTokenExpiresAt"`
}

func (h *handlers) handleParticipantsCreate(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	role := store.ParticipantRole(req.Role)
	if role == "" {
		role = store.RoleMember
	}
	if role != store.RoleOwner && role != store.RoleMember {
		writeError(w, http.StatusBadRequest, "role must be owner or member")
		return
	}

	now := time.Now().UnixMilli()
	accessEnc, expiresAt, err := h.sealHostToken(req.GithubToken, req.GithubTokenEncrypted, req.GithubTokenExpiresAt, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sealing host access token")
		return
	}

	p := &store.Participant{
		ID:                 store.NewID(),
		UserID:             req.UserID,
		HostLogin:          req.GithubLogin,
		HostDisplayName:    req.GithubName,
		HostEmail:          req.GithubEmail,
		Role:               role,
		HostAccessTokenEnc: accessEnc,
		HostTokenExpiresAt: expiresAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := h.app.Store.CreateParticipant(p); err != nil {
		writeError(w, http.StatusInternalServerError, "creating participant")
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// wsTokenRequest is the body of POST /internal/ws-token.
type wsTokenRequest struct {
	UserID string `json:"userId"`
}

// wsTokenBytes is the entropy of a minted WebSocket auth token: 256 bits
// per spec.md §6.
const wsTokenBytes = 32

func (h *handlers) handleWSToken(w http.ResponseWriter, r *http.Request) {
	var req wsTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	p, err := h.app.Store.GetParticipantByUserID(req.UserID)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "no participant for userId")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "looking up participant")
		return
	}

	raw := make([]byte, wsTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		writeError(w, http.StatusInternalServerError, "generating token")
		return
	}
	token := hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(token))
	hash := hex.EncodeToString(sum[:])

	now := time.Now().UnixMilli()
	if err := h.app.Store.SetWSAuthToken(p.ID, hash, now, now); err != nil {
		writeError(w, http.StatusInternalServerError, "persisting token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
