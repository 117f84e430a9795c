package coordinator

import (
	"path/filepath"
	"testing"

	"github.com/agentforge/coordinator/internal/lifecycle"
	"github.com/agentforge/coordinator/internal/queue"
	"github.com/agentforge/coordinator/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestLifecycleStoreAdapter_GetSandboxConvertsState(t *testing.T) {
	st := newTestStore(t)
	if err := st.PersistPreSpawn("ext-1", "tok-1", "spawning", 100); err != nil {
		t.Fatalf("PersistPreSpawn() error = %v", err)
	}

	adapter := &lifecycleStoreAdapter{st: st}
	state, err := adapter.GetSandbox()
	if err != nil {
		t.Fatalf("GetSandbox() error = %v", err)
	}
	if state.ExternalSandboxID != "ext-1" {
		t.Errorf("ExternalSandboxID = %q, want ext-1", state.ExternalSandboxID)
	}
	if state.AuthToken != "tok-1" {
		t.Errorf("AuthToken = %q, want tok-1", state.AuthToken)
	}
	if state.Status != lifecycle.SandboxStatus("spawning") {
		t.Errorf("Status = %q, want spawning", state.Status)
	}
}

func TestQueueStoreAdapter_OldestPendingConvertsMessage(t *testing.T) {
	st := newTestStore(t)
	msg := &store.Message{
		ID: store.NewID(), AuthorID: "u1", Content: "fix the bug",
		Source: store.SourceWeb, ModelOverride: "gpt-5", Status: store.MessagePending,
		CreatedAt: 1,
	}
	if _, err := st.EnqueueMessage(msg); err != nil {
		t.Fatalf("EnqueueMessage() error = %v", err)
	}

	adapter := &queueStoreAdapter{st: st}
	got, err := adapter.OldestPending()
	if err != nil {
		t.Fatalf("OldestPending() error = %v", err)
	}
	if got.ID != msg.ID || got.Content != msg.Content || got.ModelOverride != "gpt-5" {
		t.Errorf("OldestPending() = %+v, want matching conversion of %+v", got, msg)
	}
}

func TestQueueStoreAdapter_OldestPendingMapsNotFound(t *testing.T) {
	st := newTestStore(t)
	adapter := &queueStoreAdapter{st: st}

	_, err := adapter.OldestPending()
	if err != queue.ErrNotFound {
		t.Errorf("OldestPending() error = %v, want queue.ErrNotFound", err)
	}
}

func TestModelResolver_PrefersMessageOverrideThenSessionThenDefault(t *testing.T) {
	st := newTestStore(t)
	resolver := &modelResolver{store: st, defaultModel: "default-model"}

	if got := resolver.ResolveModel("message-model"); got != "message-model" {
		t.Errorf("ResolveModel() = %q, want message-model override", got)
	}

	if err := st.CreateSession(&store.Session{ID: store.NewID(), Model: "session-model", CreatedAt: 1, UpdatedAt: 1}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if got := resolver.ResolveModel(""); got != "session-model" {
		t.Errorf("ResolveModel() = %q, want session-model", got)
	}

	emptySessionStore := newTestStore(t)
	emptyResolver := &modelResolver{store: emptySessionStore, defaultModel: "default-model"}
	if got := emptyResolver.ResolveModel(""); got != "default-model" {
		t.Errorf("ResolveModel() = %q, want default-model fallback", got)
	}
}
