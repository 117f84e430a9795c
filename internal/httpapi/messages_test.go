package httpapi

import (
	"net/http"
	"testing"

	"github.com/agentforge/coordinator/internal/store"
)

func TestHandlePrompt_Success(t *testing.T) {
	ta := newTestApp(t)

	var resp map[string]string
	rec := doInternal(t, ta, "POST", "/internal/prompt", map[string]any{
		"content":  "add a retry to the flaky test",
		"authorId": "participant-1",
		"source":   "web",
	}, &resp)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	if resp["status"] != "queued" {
		t.Errorf("status = %q, want %q", resp["status"], "queued")
	}
	if resp["messageId"] == "" {
		t.Error("messageId missing from response")
	}
	if ta.queue.drives != 1 {
		t.Errorf("queue drives = %d, want 1", ta.queue.drives)
	}
}

func TestHandlePrompt_InvalidSourceRejected(t *testing.T) {
	ta := newTestApp(t)

	rec := doInternal(t, ta, "POST", "/internal/prompt", map[string]any{
		"content":  "hi",
		"authorId": "participant-1",
		"source":   "carrier-pigeon",
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if ta.queue.drives != 0 {
		t.Errorf("queue drives = %d, want 0 on rejected prompt", ta.queue.drives)
	}
}

func TestHandlePrompt_MissingFieldsRejected(t *testing.T) {
	ta := newTestApp(t)

	rec := doInternal(t, ta, "POST", "/internal/prompt", map[string]any{
		"source": "web",
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleMessages_ListsNewestFirst(t *testing.T) {
	ta := newTestApp(t)
	ta.store.messages["m1"] = &store.Message{ID: "m1", CreatedAt: 100, Status: store.MessagePending}
	ta.store.messages["m2"] = &store.Message{ID: "m2", CreatedAt: 200, Status: store.MessagePending}

	var resp map[string]any
	rec := doInternal(t, ta, "GET", "/internal/messages", nil, &resp)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	msgs, ok := resp["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("messages = %v, want 2 entries", resp["messages"])
	}
	if first, _ := msgs[0].(map[string]any); first["ID"] != "m2" {
		t.Errorf("messages[0] = %v, want newest (m2) first", msgs[0])
	}
}

func TestHandleMessages_FiltersByStatus(t *testing.T) {
	ta := newTestApp(t)
	ta.store.messages["m1"] = &store.Message{ID: "m1", CreatedAt: 100, Status: store.MessageCompleted}
	ta.store.messages["m2"] = &store.Message{ID: "m2", CreatedAt: 200, Status: store.MessageProcessing}

	var resp map[string]any
	rec := doInternal(t, ta, "GET", "/internal/messages?status=processing", nil, &resp)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	msgs, ok := resp["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("messages = %v, want 1 entry", resp["messages"])
	}
}
