package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SandboxState is the subset of the persisted sandbox row the controller
// reasons about, decoupled from package store so this package never imports
// it; internal/coordinator adapts *store.Store into a SandboxStore.
type SandboxState struct {
	ExternalSandboxID string
	ProviderObjectID  string
	SnapshotImageID   string
	AuthToken         string
	Status            SandboxStatus
	LastHeartbeat     int64
	LastActivity      int64
	FailureCount      int
	LastFailureTime   int64
	CreatedAt         int64
}

// SandboxStore is the persistence surface the controller needs.
type SandboxStore interface {
	GetSandbox() (SandboxState, error)
	PersistPreSpawn(externalID, authToken, status string, now int64) error
	SetProviderObjectID(id string, now int64) error
	SetSandboxStatus(status string, now int64) error
	RecordSpawnFailure(errMsg string, now int64) error
	RecordSpawnFailureNoCounter(errMsg string, now int64) error
	ResetFailureCounter() error
	SetSnapshotImageID(imageID string, now int64) error
}

// SpawnRequest is what the controller hands the provider to bring up or
// restore a sandbox.
type SpawnRequest struct {
	SessionID         string
	ExpectedSandboxID string
	Owner             string
	Name              string
	ControlPlaneURL   string
	AuthToken         string
	Model             string
	// ExtraEnv carries the repo's decrypted secrets (internal/reposecrets)
	// down to the provider so they land in the sandbox's environment
	// alongside the operational variables it always sets.
	ExtraEnv map[string]string
}

// Provider is the compute backend port (§4.4.3, §4.4.4, §4.4.8).
type Provider interface {
	Name() string
	SupportsSnapshot() bool
	CreateSandbox(ctx context.Context, req SpawnRequest) (providerObjectID string, err error)
	RestoreFromSnapshot(ctx context.Context, snapshotImageID string, req SpawnRequest) (providerObjectID string, err error)
	TakeSnapshot(ctx context.Context, providerObjectID string) (snapshotImageID string, err error)
}

// Broadcaster delivers an event to every connected client (internal/hub).
type Broadcaster interface {
	Broadcast(eventType string, payload any)
}

// SandboxLink reports and controls the live sandbox WebSocket connection.
type SandboxLink interface {
	IsOpen() bool
	SendShutdown() error
	Close(code int, reason string) error
}

// ErrCircuitOpen is returned by EnsureSandbox when the circuit breaker is
// blocking spawn attempts.
type ErrCircuitOpen struct{ WaitMS int64 }

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open, retry in %dms", e.WaitMS)
}

// Controller drives the sandbox lifecycle decisions of §4.4 and performs
// their side effects: status updates, broadcasts, provider calls.
type Controller struct {
	mu sync.Mutex

	store       SandboxStore
	provider    Provider
	broadcaster Broadcaster
	link        SandboxLink
	cfg         Config

	sessionID       string
	owner           string
	name            string
	controlPlaneURL string
	defaultModel    string
	extraEnv        map[string]string

	spawning bool // in-memory re-entry guard, §4.4
}

// NewController constructs a Controller. extraEnv is copied into every
// SpawnRequest the controller builds (the repo's decrypted secrets,
// resolved once at construction since they change only when a repo's
// secrets are edited, which requires a new session instance to pick up).
func NewController(store SandboxStore, provider Provider, broadcaster Broadcaster, link SandboxLink, cfg Config, sessionID, owner, name, controlPlaneURL, defaultModel string, extraEnv map[string]string) *Controller {
	return &Controller{
		store:           store,
		provider:        provider,
		broadcaster:     broadcaster,
		link:            link,
		cfg:             cfg,
		sessionID:       sessionID,
		owner:           owner,
		name:            name,
		controlPlaneURL: controlPlaneURL,
		defaultModel:    defaultModel,
		extraEnv:        extraEnv,
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// EnsureSandbox runs the circuit breaker then the spawn decision (§4.4.1,
// §4.4.2) and performs whatever side effect the decision calls for. It is
// the Spawner the queue driver and the warm path both call.
func (c *Controller) EnsureSandbox(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureSandboxLocked(ctx)
}

func (c *Controller) ensureSandboxLocked(ctx context.Context) error {
	sb, err := c.store.GetSandbox()
	if err != nil {
		return fmt.Errorf("loading sandbox state: %w", err)
	}

	now := nowMillis()
	breaker := EvaluateBreaker(BreakerState{FailureCount: sb.FailureCount, LastFailureTime: sb.LastFailureTime}, c.cfg, now)
	if !breaker.Proceed {
		return &ErrCircuitOpen{WaitMS: breaker.WaitMS}
	}
	if breaker.Reset {
		if err := c.store.ResetFailureCounter(); err != nil {
			return fmt.Errorf("resetting circuit breaker: %w", err)
		}
		sb.FailureCount = 0
		sb.LastFailureTime = 0
	}

	decision := EvaluateSpawn(SpawnInput{
		Status:           sb.Status,
		CreatedAt:        sb.CreatedAt,
		SnapshotImageID:  sb.SnapshotImageID,
		HasSocket:        c.link.IsOpen(),
		InMemorySpawning: c.spawning,
	}, c.cfg, now)

	switch decision.Action {
	case ActionSkip, ActionWait:
		slog.Debug("spawn decision", slog.String("session_id", c.sessionID), slog.String("action", string(decision.Action)), slog.String("reason", decision.Reason))
		return nil
	case ActionRestore:
		return c.doRestore(ctx, sb)
	case ActionSpawn:
		return c.doSpawn(ctx, sb)
	default:
		return fmt.Errorf("unknown spawn action %q", decision.Action)
	}
}

func generateAuthToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating sandbox auth token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// doSpawn implements §4.4.3. Caller holds c.mu.
func (c *Controller) doSpawn(ctx context.Context, sb SandboxState) error {
	c.spawning = true
	defer func() { c.spawning = false }()

	now := nowMillis()
	token, err := generateAuthToken()
	if err != nil {
		return err
	}
	expectedID := fmt.Sprintf("sandbox-%s-%s-%d", c.owner, c.name, now)

	if err := c.store.PersistPreSpawn(expectedID, token, string(StatusSpawning), now); err != nil {
		return fmt.Errorf("persisting pre-spawn state: %w", err)
	}

	req := SpawnRequest{
		SessionID:         c.sessionID,
		ExpectedSandboxID: expectedID,
		Owner:             c.owner,
		Name:              c.name,
		ControlPlaneURL:   c.controlPlaneURL,
		AuthToken:         token,
		Model:             c.defaultModel,
		ExtraEnv:          c.extraEnv,
	}

	providerObjectID, err := c.provider.CreateSandbox(ctx, req)
	if err != nil {
		return c.handleSpawnFailure(err)
	}

	failAt := nowMillis()
	if err := c.store.SetProviderObjectID(providerObjectID, failAt); err != nil {
		return fmt.Errorf("storing provider object id: %w", err)
	}
	if err := c.store.SetSandboxStatus(string(StatusConnecting), failAt); err != nil {
		return fmt.Errorf("setting status to connecting: %w", err)
	}
	if err := c.store.ResetFailureCounter(); err != nil {
		return fmt.Errorf("resetting failure counter after successful spawn: %w", err)
	}
	return nil
}

// doRestore implements §4.4.4. Caller holds c.mu.
func (c *Controller) doRestore(ctx context.Context, sb SandboxState) error {
	c.spawning = true
	defer func() { c.spawning = false }()

	now := nowMillis()
	token, err := generateAuthToken()
	if err != nil {
		return err
	}
	expectedID := fmt.Sprintf("sandbox-%s-%s-%d", c.owner, c.name, now)

	if err := c.store.PersistPreSpawn(expectedID, token, string(StatusSpawning), now); err != nil {
		return fmt.Errorf("persisting pre-restore state: %w", err)
	}

	req := SpawnRequest{
		SessionID:         c.sessionID,
		ExpectedSandboxID: expectedID,
		Owner:             c.owner,
		Name:              c.name,
		ControlPlaneURL:   c.controlPlaneURL,
		AuthToken:         token,
		Model:             c.defaultModel,
		ExtraEnv:          c.extraEnv,
	}

	providerObjectID, err := c.provider.RestoreFromSnapshot(ctx, sb.SnapshotImageID, req)
	if err != nil {
		return c.handleSpawnFailure(err)
	}

	now = nowMillis()
	if err := c.store.SetProviderObjectID(providerObjectID, now); err != nil {
		return fmt.Errorf("storing provider object id: %w", err)
	}
	if err := c.store.SetSandboxStatus(string(StatusConnecting), now); err != nil {
		return fmt.Errorf("setting status to connecting: %w", err)
	}
	if err := c.store.ResetFailureCounter(); err != nil {
		return fmt.Errorf("resetting failure counter after successful restore: %w", err)
	}
	c.broadcaster.Broadcast("sandbox_restored", map[string]string{"session_id": c.sessionID})
	return nil
}

// handleSpawnFailure classifies a provider error (§4.4.3) and records it.
func (c *Controller) handleSpawnFailure(provErr error) error {
	now := nowMillis()
	class := ClassifySpawnFailure(provErr)

	var recordErr error
	if class == FailureTransient {
		recordErr = c.store.RecordSpawnFailureNoCounter(provErr.Error(), now)
	} else {
		recordErr = c.store.RecordSpawnFailure(provErr.Error(), now)
	}
	if recordErr != nil {
		return fmt.Errorf("recording spawn failure (original error %v): %w", provErr, recordErr)
	}

	c.broadcaster.Broadcast("error", map[string]string{
		"session_id": c.sessionID,
		"message":    provErr.Error(),
	})
	return fmt.Errorf("spawning sandbox: %w", provErr)
}

// Warm implements §4.4.7: a client `typing` signal may pre-emptively spawn
// the sandbox so it's ready by the time the prompt is sent.
func (c *Controller) Warm(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sb, err := c.store.GetSandbox()
	if err != nil {
		return fmt.Errorf("loading sandbox state for warm decision: %w", err)
	}
	if !ShouldWarm(c.link.IsOpen(), c.spawning, sb.Status) {
		return nil
	}
	c.broadcaster.Broadcast("sandbox_warming", map[string]string{"session_id": c.sessionID})
	return c.ensureSandboxLocked(ctx)
}

// CheckInactivity implements §4.4.5 and performs its side effects, returning
// the decision made so the caller can reschedule its own timer.
func (c *Controller) CheckInactivity(ctx context.Context, connectedClientCount int) (InactivityDecision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sb, err := c.store.GetSandbox()
	if err != nil {
		return InactivityDecision{}, fmt.Errorf("loading sandbox state: %w", err)
	}

	now := nowMillis()
	decision := EvaluateInactivity(InactivityInput{
		LastActivity:         sb.LastActivity,
		Status:               sb.Status,
		ConnectedClientCount: connectedClientCount,
	}, c.cfg, now)

	switch decision.Action {
	case InactivityExtend:
		c.broadcaster.Broadcast("inactivity_warning", map[string]any{
			"session_id":   c.sessionID,
			"extension_ms": decision.NextWait.Milliseconds(),
		})
	case InactivityTimeout:
		if err := c.store.SetSandboxStatus(string(StatusStopped), now); err != nil {
			return decision, fmt.Errorf("stopping sandbox on inactivity timeout: %w", err)
		}
		c.broadcaster.Broadcast("sandbox_stopped", map[string]string{
			"session_id": c.sessionID,
			"reason":     "inactivity_timeout",
		})
		if _, err := c.snapshotLocked(ctx, "inactivity_timeout"); err != nil {
			slog.Error("snapshot on inactivity timeout failed", slog.String("session_id", c.sessionID), slog.Any("error", err))
		}
		if err := c.link.SendShutdown(); err != nil {
			slog.Warn("sending shutdown to sandbox failed", slog.String("session_id", c.sessionID), slog.Any("error", err))
		}
		if err := c.link.Close(1000, "inactivity timeout"); err != nil {
			slog.Warn("closing sandbox socket failed", slog.String("session_id", c.sessionID), slog.Any("error", err))
		}
	}
	return decision, nil
}

// CheckHeartbeat implements §4.4.6.
func (c *Controller) CheckHeartbeat(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sb, err := c.store.GetSandbox()
	if err != nil {
		return fmt.Errorf("loading sandbox state: %w", err)
	}
	if !IsHeartbeatStale(sb.LastHeartbeat, c.cfg, nowMillis()) {
		return nil
	}
	if err := c.store.SetSandboxStatus(string(StatusStale), nowMillis()); err != nil {
		return fmt.Errorf("marking sandbox stale: %w", err)
	}
	go func() {
		if _, err := c.Snapshot(ctx, "heartbeat_timeout"); err != nil {
			slog.Error("snapshot on heartbeat timeout failed", slog.String("session_id", c.sessionID), slog.Any("error", err))
		}
	}()
	return nil
}

// Snapshot implements §4.4.8, acquiring the controller lock.
func (c *Controller) Snapshot(ctx context.Context, reason string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(ctx, reason)
}

var errSnapshotNotSupported = errors.New("provider does not support snapshots")

func (c *Controller) snapshotLocked(ctx context.Context, reason string) (string, error) {
	if !c.provider.SupportsSnapshot() {
		return "", errSnapshotNotSupported
	}
	sb, err := c.store.GetSandbox()
	if err != nil {
		return "", fmt.Errorf("loading sandbox state: %w", err)
	}
	if sb.ProviderObjectID == "" {
		return "", errors.New("no provider object id to snapshot")
	}
	if sb.Status == StatusSnapshotting {
		return "", nil
	}

	previousStatus := sb.Status
	now := nowMillis()
	inTerminal := IsTerminalSandboxState(previousStatus)
	if !inTerminal {
		if err := c.store.SetSandboxStatus(string(StatusSnapshotting), now); err != nil {
			return "", fmt.Errorf("entering snapshotting state: %w", err)
		}
		c.broadcaster.Broadcast("sandbox_snapshotting", map[string]string{"session_id": c.sessionID, "reason": reason})
	}

	imageID, snapErr := c.provider.TakeSnapshot(ctx, sb.ProviderObjectID)

	restoreTo := previousStatus
	if reason == "heartbeat_timeout" {
		restoreTo = StatusStale
	}
	if !inTerminal {
		if err := c.store.SetSandboxStatus(string(restoreTo), nowMillis()); err != nil {
			slog.Error("restoring status after snapshot attempt failed", slog.String("session_id", c.sessionID), slog.Any("error", err))
		}
	}

	if snapErr != nil {
		return "", fmt.Errorf("taking snapshot: %w", snapErr)
	}

	if err := c.store.SetSnapshotImageID(imageID, nowMillis()); err != nil {
		return "", fmt.Errorf("persisting snapshot image id: %w", err)
	}
	c.broadcaster.Broadcast("snapshot_saved", map[string]string{"session_id": c.sessionID, "snapshot_image_id": imageID})
	return imageID, nil
}
