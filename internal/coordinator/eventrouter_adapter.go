package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/agentforge/coordinator/internal/callback"
	"github.com/agentforge/coordinator/internal/store"
)

// eventrouterStoreAdapter satisfies eventrouter.Store directly off
// *store.Store, and additionally fires the outbound callback notification
// (spec.md "Outbound callbacks") whenever Resolve completes a message that
// carries a callback context. sender and callbackURL are both optional: a
// deployment that configures neither simply never attempts delivery.
type eventrouterStoreAdapter struct {
	store       *store.Store
	sender      *callback.Sender
	callbackURL string
}

func (a *eventrouterStoreAdapter) AppendEvent(e *store.Event) error {
	return a.store.AppendEvent(e)
}

func (a *eventrouterStoreAdapter) SetGitSyncStatus(status string, now int64) error {
	return a.store.SetGitSyncStatus(status, now)
}

func (a *eventrouterStoreAdapter) UpdateSessionSHA(sha string, now int64) error {
	return a.store.UpdateSessionSHA(sha, now)
}

func (a *eventrouterStoreAdapter) StampHeartbeat(now int64) error {
	return a.store.StampHeartbeat(now)
}

func (a *eventrouterStoreAdapter) CurrentlyProcessing() (*store.Message, error) {
	return a.store.CurrentlyProcessing()
}

// Resolve marks the message resolved, then — best-effort, never blocking the
// caller or surfacing a delivery failure as a Resolve error — notifies the
// configured callback endpoint if the message asked for one.
func (a *eventrouterStoreAdapter) Resolve(id string, success bool, errMsg string, now int64) error {
	if err := a.store.Resolve(id, success, errMsg, now); err != nil {
		return err
	}

	if a.sender == nil || a.callbackURL == "" {
		return nil
	}

	msg, err := a.store.GetMessage(id)
	if err != nil {
		slog.Error("eventrouter: loading message for callback dispatch failed", slog.String("message_id", id), slog.Any("error", err))
		return nil
	}
	if msg.CallbackContextJSON == "" {
		return nil
	}

	sess, err := a.store.GetSession()
	if err != nil {
		slog.Error("eventrouter: loading session for callback dispatch failed", slog.String("message_id", id), slog.Any("error", err))
		return nil
	}

	var callbackCtx any
	if err := json.Unmarshal([]byte(msg.CallbackContextJSON), &callbackCtx); err != nil {
		slog.Warn("eventrouter: malformed callback context, sending as raw string", slog.String("message_id", id), slog.Any("error", err))
		callbackCtx = msg.CallbackContextJSON
	}

	payload := callback.Payload{
		SessionID: sess.ID,
		MessageID: id,
		Success:   success,
		Timestamp: time.UnixMilli(now).UTC().Format(time.RFC3339),
		Context:   callbackCtx,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.sender.Send(ctx, a.callbackURL, payload); err != nil {
			slog.Error("eventrouter: callback delivery failed", slog.String("message_id", id), slog.Any("error", err))
		}
	}()

	return nil
}
