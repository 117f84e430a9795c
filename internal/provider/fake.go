package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentforge/coordinator/internal/lifecycle"
)

// Fake is an in-memory lifecycle.Provider used by tests and local
// development (config.Config.ProviderBackend == "fake"): it never talks to
// a real compute backend, it just hands back a deterministic object ID.
type Fake struct {
	mu        sync.Mutex
	snapshots bool
	sandboxes map[string]bool
	nextID    int
}

// NewFake returns a Fake provider. supportsSnapshot controls what
// SupportsSnapshot reports, so tests can exercise both the snapshot and
// no-snapshot paths of lifecycle.Controller against the same provider type.
func NewFake(supportsSnapshot bool) *Fake {
	return &Fake{snapshots: supportsSnapshot, sandboxes: make(map[string]bool)}
}

// Name implements lifecycle.Provider.
func (f *Fake) Name() string { return "fake" }

// SupportsSnapshot implements lifecycle.Provider.
func (f *Fake) SupportsSnapshot() bool { return f.snapshots }

// CreateSandbox implements lifecycle.Provider.
func (f *Fake) CreateSandbox(ctx context.Context, req lifecycle.SpawnRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("fake-sandbox-%s-%d", req.SessionID, f.nextID)
	f.sandboxes[id] = true
	return id, nil
}

// RestoreFromSnapshot implements lifecycle.Provider.
func (f *Fake) RestoreFromSnapshot(ctx context.Context, snapshotImageID string, req lifecycle.SpawnRequest) (string, error) {
	if !f.snapshots {
		return "", fmt.Errorf("provider: fake provider configured without snapshot support")
	}
	return f.CreateSandbox(ctx, req)
}

// TakeSnapshot implements lifecycle.Provider.
func (f *Fake) TakeSnapshot(ctx context.Context, providerObjectID string) (string, error) {
	if !f.snapshots {
		return "", fmt.Errorf("provider: fake provider configured without snapshot support")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sandboxes[providerObjectID] {
		return "", fmt.Errorf("provider: unknown sandbox %q", providerObjectID)
	}
	return "fake-snapshot-" + providerObjectID, nil
}

// DeleteSandbox removes providerObjectID from the in-memory set. Mirrors
// Kubernetes.DeleteSandbox so callers can treat both providers uniformly.
func (f *Fake) DeleteSandbox(ctx context.Context, sessionID, providerObjectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sandboxes, providerObjectID)
	return nil
}

var _ lifecycle.Provider = (*Fake)(nil)
