package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/agentforge/coordinator/internal/ingest/slack"
	"github.com/agentforge/coordinator/internal/store"
)

// OnSandboxConnected implements hub.Hooks: re-drive the queue once the
// sandbox socket is accepted, in case a prompt was waiting for it (§4.3
// step 3).
func (c *Coordinator) OnSandboxConnected(ctx context.Context) {
	if err := c.queue.Drive(ctx); err != nil {
		slog.Error("coordinator: driving queue on sandbox connect failed", slog.Any("error", err))
	}
}

// OnSandboxDisconnected implements hub.Hooks. Nothing to re-drive: the
// queue only dispatches when the socket is open, and a message already
// dispatched stays in "processing" until it resolves or stalls out, which
// is a human/control-plane concern (§4.3), not this hook's.
func (c *Coordinator) OnSandboxDisconnected() {}

// OnSandboxEvent implements hub.Hooks by handing the raw event straight to
// the event router (§4.5).
func (c *Coordinator) OnSandboxEvent(ctx context.Context, raw json.RawMessage) {
	if err := c.router.Dispatch(ctx, raw); err != nil {
		slog.Error("coordinator: dispatching sandbox event failed", slog.Any("error", err))
	}
}

// EnqueuePrompt implements hub.Hooks for prompts submitted over the client
// WebSocket (as opposed to the HTTP /internal/prompt route, which calls
// EnqueueMessage directly).
func (c *Coordinator) EnqueuePrompt(ctx context.Context, authorID, content, model, attachments string) (string, int, error) {
	now := time.Now().UnixMilli()
	msg := &store.Message{
		ID:              store.NewID(),
		AuthorID:        authorID,
		Content:         content,
		Source:          store.SourceWeb,
		ModelOverride:   model,
		AttachmentsJSON: attachments,
		Status:          store.MessagePending,
		CreatedAt:       now,
	}
	position, err := c.store.EnqueueMessage(msg)
	if err != nil {
		return "", 0, err
	}
	if err := c.queue.Drive(ctx); err != nil {
		slog.Error("coordinator: driving queue after enqueue failed", slog.Any("error", err))
	}
	return msg.ID, position, nil
}

// RequestStop implements hub.Hooks.
func (c *Coordinator) RequestStop(ctx context.Context) error {
	return c.hub.SendStop()
}

// RequestWarm implements hub.Hooks (§4.4.7): a client `typing` signal warms
// the sandbox ahead of the prompt it is about to send.
func (c *Coordinator) RequestWarm(ctx context.Context) {
	if err := c.controller.Warm(ctx); err != nil {
		slog.Error("coordinator: warming sandbox failed", slog.Any("error", err))
	}
}

// Submit implements slack.Submitter, turning an ingested Slack mention into
// a queued prompt the same way EnqueuePrompt does for a WebSocket client.
func (c *Coordinator) Submit(ctx context.Context, msg slack.PromptSubmission) (int, error) {
	_, position, err := c.EnqueuePrompt(ctx, msg.AuthorID, msg.Content, "", "")
	return position, err
}
