package store

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesSandboxRowWithZeroCreatedAt(t *testing.T) {
	s := newTestStore(t)

	sb, err := s.GetSandbox()
	if err != nil {
		t.Fatalf("GetSandbox() error = %v", err)
	}
	if sb.CreatedAt != 0 {
		t.Errorf("CreatedAt = %d, want 0 immediately after session init", sb.CreatedAt)
	}
	if sb.Status != string(SessionCreated) && sb.Status != "pending" {
		t.Errorf("Status = %q, want pending", sb.Status)
	}
}

func TestEnqueueMessage_ReturnsQueuePosition(t *testing.T) {
	s := newTestStore(t)

	m1 := &Message{ID: NewID(), AuthorID: "u1", Content: "hi", Source: SourceWeb, CreatedAt: 100}
	pos, err := s.EnqueueMessage(m1)
	if err != nil {
		t.Fatalf("EnqueueMessage() error = %v", err)
	}
	if pos != 1 {
		t.Errorf("position = %d, want 1", pos)
	}

	m2 := &Message{ID: NewID(), AuthorID: "u1", Content: "again", Source: SourceWeb, CreatedAt: 200}
	pos, err = s.EnqueueMessage(m2)
	if err != nil {
		t.Fatalf("EnqueueMessage() error = %v", err)
	}
	if pos != 2 {
		t.Errorf("position = %d, want 2", pos)
	}
}

func TestMarkProcessing_SingleInFlight(t *testing.T) {
	s := newTestStore(t)

	m1 := &Message{ID: NewID(), AuthorID: "u1", Content: "hi", Source: SourceWeb, CreatedAt: 100}
	s.EnqueueMessage(m1)

	if err := s.MarkProcessing(m1.ID, 150); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}

	has, err := s.HasProcessingMessage()
	if err != nil {
		t.Fatalf("HasProcessingMessage() error = %v", err)
	}
	if !has {
		t.Fatal("HasProcessingMessage() = false, want true")
	}

	// Marking an already-processing (or nonexistent) id processing again
	// must not silently succeed: the WHERE clause requires status=pending.
	if err := s.MarkProcessing(m1.ID, 160); err == nil {
		t.Error("MarkProcessing() on an already-processing message should fail")
	}
}

func TestResolve_MonotoneTransition(t *testing.T) {
	s := newTestStore(t)

	m := &Message{ID: NewID(), AuthorID: "u1", Content: "hi", Source: SourceWeb, CreatedAt: 100}
	s.EnqueueMessage(m)
	s.MarkProcessing(m.ID, 150)

	if err := s.Resolve(m.ID, true, "", 200); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	got, err := s.GetMessage(m.ID)
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if got.Status != MessageCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}

	// Resolving again must fail: status is no longer processing.
	if err := s.Resolve(m.ID, true, "", 210); err == nil {
		t.Error("Resolve() on an already-resolved message should fail")
	}
}

func TestOldestPending_OrdersByCreatedAt(t *testing.T) {
	s := newTestStore(t)

	m1 := &Message{ID: "a", AuthorID: "u1", Content: "first", Source: SourceWeb, CreatedAt: 100}
	m2 := &Message{ID: "b", AuthorID: "u1", Content: "second", Source: SourceWeb, CreatedAt: 200}
	s.EnqueueMessage(m2)
	s.EnqueueMessage(m1)

	oldest, err := s.OldestPending()
	if err != nil {
		t.Fatalf("OldestPending() error = %v", err)
	}
	if oldest.ID != "a" {
		t.Errorf("OldestPending().ID = %q, want %q", oldest.ID, "a")
	}
}

func TestListEvents_CursorPagination(t *testing.T) {
	s := newTestStore(t)

	for i := int64(1); i <= 5; i++ {
		s.AppendEvent(&Event{ID: NewID(), Type: EventHeartbeat, CreatedAt: i * 10})
	}

	page1, cursor1, err := s.ListEvents(maxCursor, 2, "", "")
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("len(page1) = %d, want 2", len(page1))
	}
	if page1[0].CreatedAt != 50 || page1[1].CreatedAt != 40 {
		t.Errorf("page1 = %+v, want newest-first starting at 50", page1)
	}

	page2, _, err := s.ListEvents(cursor1, 2, "", "")
	if err != nil {
		t.Fatalf("ListEvents() page2 error = %v", err)
	}
	if len(page2) != 2 || page2[0].CreatedAt != 30 {
		t.Errorf("page2 = %+v, want to continue from cursor %d", page2, cursor1)
	}
}

func TestRecordSpawnFailure_IncrementsCounter(t *testing.T) {
	s := newTestStore(t)

	if err := s.RecordSpawnFailure("boom", 1000); err != nil {
		t.Fatalf("RecordSpawnFailure() error = %v", err)
	}
	sb, err := s.GetSandbox()
	if err != nil {
		t.Fatalf("GetSandbox() error = %v", err)
	}
	if sb.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", sb.FailureCount)
	}
	if sb.LastFailureTime != 1000 {
		t.Errorf("LastFailureTime = %d, want 1000", sb.LastFailureTime)
	}
	if sb.Status != "failed" {
		t.Errorf("Status = %q, want failed", sb.Status)
	}
}

func TestPersistPreSpawn_PersistsBeforeProviderCall(t *testing.T) {
	s := newTestStore(t)

	if err := s.PersistPreSpawn("sandbox-acme-web-1000", "tok-abc", "spawning", 1000); err != nil {
		t.Fatalf("PersistPreSpawn() error = %v", err)
	}
	sb, err := s.GetSandbox()
	if err != nil {
		t.Fatalf("GetSandbox() error = %v", err)
	}
	if sb.ExternalSandboxID != "sandbox-acme-web-1000" || sb.AuthToken != "tok-abc" {
		t.Errorf("sandbox = %+v, want pre-spawn fields persisted", sb)
	}
}
