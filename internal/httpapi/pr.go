package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentforge/coordinator/internal/codehost"
	"github.com/agentforge/coordinator/internal/store"
)

// tokenExpirySkew bounds how close to expiry a host access token may be and
// still be used, per spec.md §4.6's "unexpired (60 s skew)".
const tokenExpirySkew = 60 * time.Second

// pushAwaitTimeout bounds the create-pr handler's wait for push_complete/
// push_error, matching spec.md §5's "180-second end-to-end timeout" that
// internal/eventrouter.Router.AwaitPush also enforces internally.
const pushAwaitTimeout = 180 * time.Second

// createPRRequest is the body of POST /internal/create-pr.
type createPRRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// handleCreatePR implements the pull-request path of spec.md §4.6.
func (h *handlers) handleCreatePR(w http.ResponseWriter, r *http.Request) {
	var req createPRRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := h.app.Store.CurrentlyProcessing()
	if err == store.ErrNotFound {
		writeError(w, http.StatusBadRequest, "no message is currently processing")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "finding processing message")
		return
	}

	participant, err := h.app.Store.GetParticipant(msg.AuthorID)
	if err == store.ErrNotFound {
		writeError(w, http.StatusBadRequest, "processing message's author is not a known participant")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "looking up acting participant")
		return
	}

	now := time.Now()
	if len(participant.HostAccessTokenEnc) == 0 || participant.HostTokenExpiresAt-tokenExpirySkew.Milliseconds() < now.UnixMilli() {
		writeError(w, http.StatusUnauthorized, "host access token missing or expired, re-authenticate")
		return
	}
	userToken, err := h.app.Sealer.DecryptString(string(participant.HostAccessTokenEnc))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "host access token could not be decrypted, re-authenticate")
		return
	}

	sess, err := h.app.Store.GetSession()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "getting session")
		return
	}

	ctx := r.Context()

	repo, err := h.app.CodeHost.GetRepository(ctx, sess.RepoOwner, sess.RepoName, userToken)
	if err != nil {
		writeError(w, http.StatusBadGateway, "resolving repository default branch")
		return
	}

	head := derivePRBranchName(sess.ID)

	if h.app.Hub.IsOpen() {
		installToken, _, err := h.app.Identity.GenerateInstallationToken(ctx, h.app.Config.IdentityInstallationID)
		if err != nil {
			writeError(w, http.StatusBadGateway, "minting installation token")
			return
		}

		if err := h.app.Hub.SendPush(head, sess.RepoOwner, sess.RepoName, installToken); err != nil {
			writeError(w, http.StatusBadGateway, "sending push command to sandbox")
			return
		}

		pushCtx, cancel := context.WithTimeout(ctx, pushAwaitTimeout)
		err = h.app.Events.AwaitPush(pushCtx, head)
		cancel()
		if err != nil {
			writeError(w, http.StatusBadGateway, fmt.Sprintf("awaiting sandbox push: %s", err))
			return
		}
	}

	body := req.Body + prSessionFooter(sess)

	pr, err := h.app.CodeHost.CreatePullRequest(ctx, codehost.CreatePullRequestRequest{
		Owner:     sess.RepoOwner,
		Name:      sess.RepoName,
		Title:     req.Title,
		Body:      body,
		Head:      head,
		Base:      repo.DefaultBranch,
		UserToken: userToken,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "creating pull request")
		return
	}

	metadata, _ := json.Marshal(map[string]any{"number": pr.Number, "state": pr.State})
	artifact := &store.Artifact{
		ID:           store.NewID(),
		Type:         store.ArtifactPR,
		URL:          pr.HTMLURL,
		MetadataJSON: string(metadata),
		CreatedAt:    now.UnixMilli(),
	}
	if err := h.app.Store.CreateArtifact(artifact); err != nil {
		writeError(w, http.StatusInternalServerError, "persisting pull request artifact")
		return
	}
	if err := h.app.Store.UpdateSessionBranch(head, now.UnixMilli()); err != nil {
		writeError(w, http.StatusInternalServerError, "updating session branch")
		return
	}

	h.app.Hub.Broadcast("artifact_created", map[string]any{"artifact": artifact})

	writeJSON(w, http.StatusOK, map[string]any{
		"number":  pr.Number,
		"htmlUrl": pr.HTMLURL,
		"state":   pr.State,
	})
}

// derivePRBranchName deterministically derives the sandbox's push head
// branch from the session id (spec.md §4.6 step 2).
func derivePRBranchName(sessionID string) string {
	return fmt.Sprintf("agent/%s", sessionID)
}

// prSessionFooter appends a session-link footer to a pull request body
// (spec.md §4.6 step 5).
func prSessionFooter(sess *store.Session) string {
	return fmt.Sprintf("\n\n---\nOpened by session `%s`.", sess.SessionName)
}
