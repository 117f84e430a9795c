// Package queue implements the ordered, persisted FIFO prompt queue
// (spec.md §4.3): a single-in-flight dispatch driver over the per-session
// message table. The driver itself holds no queue state in memory — the
// store is the only source of truth — so it is safe to invoke repeatedly
// (on enqueue, on sandbox connect, on completion) without any admission
// bookkeeping of its own.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Message is the subset of store.Message the driver needs to dispatch a
// prompt command, decoupled from the store package to keep this package
// import-free of storage concerns.
type Message struct {
	ID              string
	Content         string
	ModelOverride   string
	AuthorID        string
	AttachmentsJSON string
}

// PromptCommand is sent to the sandbox over its WebSocket.
type PromptCommand struct {
	MessageID   string
	Content     string
	Model       string
	Author      string
	Attachments string
}

// Store is the persistence surface the driver needs.
type Store interface {
	HasProcessingMessage() (bool, error)
	OldestPending() (*Message, error)
	MarkProcessing(id string, now int64) error
	StampActivity(now int64) error
}

// SandboxLink reports whether the sandbox socket is open and, if so,
// delivers a command to it.
type SandboxLink interface {
	IsOpen() bool
	Send(cmd PromptCommand) error
}

// Spawner triggers the lifecycle controller's spawn decision when no
// sandbox socket is available to receive the head-of-queue prompt.
type Spawner interface {
	EnsureSandbox(ctx context.Context) error
}

// ModelResolver resolves the model to dispatch with, applying
// message.model > session.model > default (spec.md §9 "per-message model
// override").
type ModelResolver interface {
	ResolveModel(messageModel string) string
}

// ErrNotFound is returned by Store methods with no matching row; the
// driver treats it as "nothing to do", never as a fatal condition.
var ErrNotFound = fmt.Errorf("queue: not found")

// Driver implements the prompt-queue processing invariants of spec.md §4.3.
type Driver struct {
	mu       sync.Mutex
	store    Store
	link     SandboxLink
	spawner  Spawner
	resolver ModelResolver
}

// New constructs a Driver.
func New(store Store, link SandboxLink, spawner Spawner, resolver ModelResolver) *Driver {
	return &Driver{store: store, link: link, spawner: spawner, resolver: resolver}
}

// Drive runs the single processing function described by spec.md §4.3:
//
//  1. If any message has status=processing, return.
//  2. Otherwise pick the oldest pending message.
//  3. If the sandbox socket is not open, initiate spawnSandbox and return.
//  4. Otherwise mark the message processing and dispatch the prompt.
//
// Drive is idempotent and safe to call from multiple trigger points
// (enqueue, sandbox connect, completion) since it always re-derives state
// from the store.
func (d *Driver) Drive(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	inFlight, err := d.store.HasProcessingMessage()
	if err != nil {
		return fmt.Errorf("checking in-flight message: %w", err)
	}
	if inFlight {
		return nil
	}

	msg, err := d.store.OldestPending()
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting oldest pending message: %w", err)
	}

	if !d.link.IsOpen() {
		if err := d.spawner.EnsureSandbox(ctx); err != nil {
			slog.Error("spawn attempt from queue driver failed",
				slog.String("message_id", msg.ID), slog.Any("error", err))
		}
		return nil
	}

	now := time.Now().UnixMilli()
	if err := d.store.MarkProcessing(msg.ID, now); err != nil {
		return fmt.Errorf("marking message processing: %w", err)
	}
	if err := d.store.StampActivity(now); err != nil {
		return fmt.Errorf("stamping activity: %w", err)
	}

	cmd := PromptCommand{
		MessageID:   msg.ID,
		Content:     msg.Content,
		Model:       d.resolver.ResolveModel(msg.ModelOverride),
		Author:      msg.AuthorID,
		Attachments: msg.AttachmentsJSON,
	}
	if err := d.link.Send(cmd); err != nil {
		return fmt.Errorf("dispatching prompt to sandbox: %w", err)
	}

	slog.Info("dispatched prompt to sandbox", slog.String("message_id", msg.ID))
	return nil
}
