package httpapi

import (
	"net/http"
	"testing"

	"github.com/agentforge/coordinator/internal/store"
)

func TestHandleParticipantsCreate_DefaultsToMember(t *testing.T) {
	ta := newTestApp(t)

	var resp store.Participant
	rec := doInternal(t, ta, "POST", "/internal/participants", map[string]any{
		"userId": "user-2",
	}, &resp)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body = %s", rec.Code, rec.Body.String())
	}
	if resp.Role != store.RoleMember {
		t.Errorf("role = %q, want member", resp.Role)
	}
}

func TestHandleParticipantsCreate_RejectsInvalidRole(t *testing.T) {
	ta := newTestApp(t)

	rec := doInternal(t, ta, "POST", "/internal/participants", map[string]any{
		"userId": "user-2",
		"role":   "superadmin",
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleParticipantsCreate_SealsPlaintextToken(t *testing.T) {
	ta := newTestApp(t)

	var resp store.Participant
	doInternal(t, ta, "POST", "/internal/participants", map[string]any{
		"userId":      "user-3",
		"githubToken": "gho_abc123",
	}, &resp)

	if string(resp.HostAccessTokenEnc) != "enc:gho_abc123" {
		t.Errorf("host access token not sealed, got %q", resp.HostAccessTokenEnc)
	}
}

func TestHandleParticipantsList(t *testing.T) {
	ta := newTestApp(t)
	ta.store.participants["p1"] = &store.Participant{ID: "p1", UserID: "user-1"}

	var resp map[string]any
	rec := doInternal(t, ta, "GET", "/internal/participants", nil, &resp)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	participants, ok := resp["participants"].([]any)
	if !ok || len(participants) != 1 {
		t.Fatalf("participants = %v, want 1 entry", resp["participants"])
	}
}

func TestHandleWSToken_MintsAndHashes(t *testing.T) {
	ta := newTestApp(t)
	ta.store.participants["p1"] = &store.Participant{ID: "p1", UserID: "user-1"}

	var resp map[string]string
	rec := doInternal(t, ta, "POST", "/internal/ws-token", map[string]any{
		"userId": "user-1",
	}, &resp)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	if resp["token"] == "" {
		t.Fatal("token missing from response")
	}
	if ta.store.participants["p1"].WSAuthTokenHash == "" {
		t.Error("token hash was not persisted")
	}
	if ta.store.participants["p1"].WSAuthTokenHash == resp["token"] {
		t.Error("persisted hash must not equal the plaintext token")
	}
}

func TestHandleWSToken_UnknownUserRejected(t *testing.T) {
	ta := newTestApp(t)

	rec := doInternal(t, ta, "POST", "/internal/ws-token", map[string]any{
		"userId": "ghost",
	}, nil)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
