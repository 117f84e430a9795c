package httpapi

import (
	"net/http"
	"testing"

	"github.com/agentforge/coordinator/internal/store"
)

func TestHandleInit_Success(t *testing.T) {
	ta := newTestApp(t)

	var resp map[string]string
	rec := doInternal(t, ta, "POST", "/internal/init", map[string]any{
		"sessionName": "fix-flaky-test",
		"repoOwner":   "acme",
		"repoName":    "widgets",
		"userId":      "user-1",
		"githubToken": "gho_plaintext",
	}, &resp)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	if resp["sessionId"] == "" {
		t.Error("sessionId missing from response")
	}
	if resp["status"] != string(store.SessionCreated) {
		t.Errorf("status = %q, want %q", resp["status"], store.SessionCreated)
	}

	sess, err := ta.store.GetSession()
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.RepoOwner != "acme" || sess.RepoName != "widgets" {
		t.Errorf("session repo = %s/%s, want acme/widgets", sess.RepoOwner, sess.RepoName)
	}

	owner, err := ta.store.GetParticipantByUserID("user-1")
	if err != nil {
		t.Fatalf("GetParticipantByUserID: %v", err)
	}
	if owner.Role != store.RoleOwner {
		t.Errorf("role = %q, want owner", owner.Role)
	}
	if string(owner.HostAccessTokenEnc) != "enc:gho_plaintext" {
		t.Errorf("host access token not sealed, got %q", owner.HostAccessTokenEnc)
	}
}

func TestHandleInit_MissingFieldsRejected(t *testing.T) {
	ta := newTestApp(t)

	rec := doInternal(t, ta, "POST", "/internal/init", map[string]any{
		"sessionName": "missing-repo",
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleInit_AlreadyInitializedConflicts(t *testing.T) {
	ta := newTestApp(t)
	ta.store.session = &store.Session{ID: "existing"}

	rec := doInternal(t, ta, "POST", "/internal/init", map[string]any{
		"sessionName": "second-attempt",
		"repoOwner":   "acme",
		"repoName":    "widgets",
		"userId":      "user-1",
	}, nil)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHandleState_NotFound(t *testing.T) {
	ta := newTestApp(t)

	rec := doInternal(t, ta, "GET", "/internal/state", nil, nil)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleState_Found(t *testing.T) {
	ta := newTestApp(t)
	ta.store.session = &store.Session{ID: "sess-1", SessionName: "demo", Status: store.SessionActive}
	ta.store.sandbox = &store.Sandbox{Status: "running"}

	var resp map[string]any
	rec := doInternal(t, ta, "GET", "/internal/state", nil, &resp)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp["session"] == nil {
		t.Error("session missing from response")
	}
	if resp["sandbox"] == nil {
		t.Error("sandbox missing from response")
	}
}
