// Package eventrouter implements the Sandbox Event Router (spec.md §4.5):
// every inbound sandbox event is persisted, then dispatched to update
// session/sandbox state and resolve in-flight async waits (the prompt-queue
// completion path, pending pull-request pushes).
package eventrouter

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentforge/coordinator/internal/store"
)

// pushTimeout bounds a pending push's round-trip (spec.md §5: "the push
// round-trip has a 180-second end-to-end timeout").
const pushTimeout = 180 * time.Second

// Store is the persistence surface the router needs.
type Store interface {
	AppendEvent(e *store.Event) error
	SetGitSyncStatus(status string, now int64) error
	UpdateSessionSHA(sha string, now int64) error
	StampHeartbeat(now int64) error
	Resolve(id string, success bool, errMsg string, now int64) error
	CurrentlyProcessing() (*store.Message, error)
}

// Completer re-drives the prompt queue after a message resolves (spec.md
// §4.3's "completion → next prompt dequeued").
type Completer interface {
	Drive(ctx context.Context) error
}

// Broadcaster fans a decoded event out to connected clients.
type Broadcaster interface {
	Broadcast(eventType string, payload any)
}

// envelope is the wire shape of every inbound sandbox→coordinator event.
type envelope struct {
	Type      store.EventType `json:"type"`
	MessageID string          `json:"messageId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type gitSyncData struct {
	Status string `json:"status"`
	SHA    string `json:"sha,omitempty"`
}

type executionCompleteData struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type pushResultData struct {
	BranchName string `json:"branchName"`
	Error      string `json:"error,omitempty"`
}

// pendingPush is a pull-request push awaiting push_complete/push_error,
// keyed by its normalized (trimmed, lower-cased) branch name.
type pendingPush struct {
	resolve chan pushResult
	timer   *time.Timer
}

type pushResult struct {
	ok  bool
	err error
}

// Router dispatches persisted sandbox events per spec.md §4.5.
type Router struct {
	store       Store
	queue       Completer
	broadcaster Broadcaster

	mu      sync.Mutex
	pending map[string]*pendingPush
}

// New constructs a Router.
func New(st Store, queue Completer, broadcaster Broadcaster) *Router {
	return &Router{
		store:       st,
		queue:       queue,
		broadcaster: broadcaster,
		pending:     make(map[string]*pendingPush),
	}
}

// Dispatch persists raw as an event, then routes it by type. It never
// returns an error for a malformed or unrecognized event — per spec.md's
// propagation policy, upstream/inbound failures degrade to a logged
// observation rather than crashing the instance — except when persistence
// itself fails, since that indicates a store-level problem callers should
// know about.
func (r *Router) Dispatch(ctx context.Context, raw json.RawMessage) error {
	now := time.Now().UnixMilli()

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("eventrouter: dropping malformed sandbox event", slog.Any("error", err))
		return nil
	}

	id, err := generateEventID()
	if err != nil {
		return fmt.Errorf("eventrouter: generating event id: %w", err)
	}

	if err := r.store.AppendEvent(&store.Event{
		ID:        id,
		Type:      env.Type,
		DataJSON:  string(env.Data),
		MessageID: env.MessageID,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("eventrouter: persisting event: %w", err)
	}

	switch env.Type {
	case store.EventExecutionComplete:
		r.handleExecutionComplete(ctx, env, now)
	case store.EventGitSync:
		r.handleGitSync(env, now)
	case store.EventHeartbeat:
		if err := r.store.StampHeartbeat(now); err != nil {
			slog.Error("eventrouter: stamping heartbeat failed", slog.Any("error", err))
		}
	case store.EventPushComplete:
		r.resolvePush(env.Data, true)
	case store.EventPushError:
		r.resolvePush(env.Data, false)
	}

	r.broadcaster.Broadcast("sandbox_event", map[string]any{"type": env.Type, "messageId": env.MessageID, "data": env.Data})
	return nil
}

func (r *Router) handleExecutionComplete(ctx context.Context, env envelope, now int64) {
	var data executionCompleteData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			slog.Warn("eventrouter: malformed execution_complete data", slog.Any("error", err))
		}
	}

	messageID := env.MessageID
	if messageID == "" {
		// Fall back to the "currently processing" heuristic only when the
		// event carries no message id (spec.md §5's ordering guarantee
		// prefers the carried id to avoid misattribution).
		msg, err := r.store.CurrentlyProcessing()
		if err != nil {
			if err != store.ErrNotFound {
				slog.Error("eventrouter: finding processing message failed", slog.Any("error", err))
			}
			return
		}
		messageID = msg.ID
	}

	if err := r.store.Resolve(messageID, data.Success, data.Error, now); err != nil {
		slog.Error("eventrouter: resolving message failed", slog.String("message_id", messageID), slog.Any("error", err))
		return
	}

	if err := r.queue.Drive(ctx); err != nil {
		slog.Error("eventrouter: re-driving queue after completion failed", slog.Any("error", err))
	}
}

func (r *Router) handleGitSync(env envelope, now int64) {
	var data gitSyncData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			slog.Warn("eventrouter: malformed git_sync data", slog.Any("error", err))
			return
		}
	}

	if err := r.store.SetGitSyncStatus(data.Status, now); err != nil {
		slog.Error("eventrouter: setting git sync status failed", slog.Any("error", err))
	}
	if data.SHA != "" {
		if err := r.store.UpdateSessionSHA(data.SHA, now); err != nil {
			slog.Error("eventrouter: updating session sha failed", slog.Any("error", err))
		}
	}
}

// AwaitPush registers branchName as a pending push and blocks until
// push_complete/push_error resolves it or pushTimeout elapses (spec.md
// §4.6 step 4, §5's pending-push map). The timer is always cleared, on
// both the resolution and timeout paths, so it never leaks.
func (r *Router) AwaitPush(ctx context.Context, branchName string) error {
	key := normalizeBranch(branchName)

	p := &pendingPush{resolve: make(chan pushResult, 1)}
	r.mu.Lock()
	r.pending[key] = p
	r.mu.Unlock()

	p.timer = time.AfterFunc(pushTimeout, func() {
		r.mu.Lock()
		if r.pending[key] == p {
			delete(r.pending, key)
		}
		r.mu.Unlock()
		select {
		case p.resolve <- pushResult{ok: false, err: fmt.Errorf("eventrouter: push for branch %q timed out after %s", branchName, pushTimeout)}:
		default:
		}
	})

	select {
	case <-ctx.Done():
		p.timer.Stop()
		r.mu.Lock()
		if r.pending[key] == p {
			delete(r.pending, key)
		}
		r.mu.Unlock()
		return ctx.Err()
	case res := <-p.resolve:
		p.timer.Stop()
		return res.err
	}
}

func (r *Router) resolvePush(data json.RawMessage, ok bool) {
	var payload pushResultData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			slog.Warn("eventrouter: malformed push result data", slog.Any("error", err))
			return
		}
	}

	key := normalizeBranch(payload.BranchName)

	r.mu.Lock()
	p, found := r.pending[key]
	if found {
		delete(r.pending, key)
	}
	r.mu.Unlock()

	if !found {
		// Unknown branches are ignored (spec.md §4.5).
		return
	}

	p.timer.Stop()
	var err error
	if !ok {
		err = fmt.Errorf("eventrouter: push for branch %q failed: %s", payload.BranchName, payload.Error)
	}
	select {
	case p.resolve <- pushResult{ok: ok, err: err}:
	default:
	}
}

func normalizeBranch(branch string) string {
	return strings.ToLower(strings.TrimSpace(branch))
}

func generateEventID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
