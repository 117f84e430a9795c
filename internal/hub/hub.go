package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentforge/coordinator/internal/queue"
	"github.com/agentforge/coordinator/internal/store"
)

// Terminal-lifecycle and auth close codes (spec.md §6).
const (
	CloseInvalidToken          = 4001
	CloseSessionExpired        = 4002
	CloseAuthenticationTimeout = 4008
)

const (
	historyMessageLimit = 100
	historyEventLimit   = 500
)

// Store is the persistence surface the hub needs, narrowed from
// *store.Store the same way internal/lifecycle and internal/queue narrow
// their own dependencies.
type Store interface {
	GetSession() (*store.Session, error)
	GetSandbox() (*store.Sandbox, error)
	SetSandboxStatus(status string, now int64) error
	StampActivity(now int64) error
	FindParticipantByWSTokenHash(hash string) (*store.Participant, error)
	GetParticipant(id string) (*store.Participant, error)
	ListParticipants() ([]*store.Participant, error)
	RecordMapping(m *store.WSClientMapping) error
	LookupMapping(socketID string) (*store.WSClientMapping, error)
	DeleteMapping(socketID string) error
	RecentHistory(msgLimit, evtLimit int) ([]*store.Message, []*store.Event, error)
}

// Hooks lets the coordinator react to connection-hub lifecycle events
// without the hub importing internal/lifecycle, internal/queue, or
// internal/eventrouter directly.
type Hooks interface {
	// OnSandboxConnected fires once the sandbox socket is accepted and
	// marked ready, so the prompt queue can be re-driven (§4.3 step 3).
	OnSandboxConnected(ctx context.Context)
	// OnSandboxDisconnected fires when the sandbox socket closes.
	OnSandboxDisconnected()
	// OnSandboxEvent forwards a raw inbound sandbox event for persistence
	// and dispatch (§4.5).
	OnSandboxEvent(ctx context.Context, raw json.RawMessage)
	// EnqueuePrompt enqueues a client-submitted prompt and re-drives the
	// queue (§4.3).
	EnqueuePrompt(ctx context.Context, authorID, content, model, attachments string) (messageID string, position int, err error)
	// RequestStop best-effort relays a stop command to the sandbox.
	RequestStop(ctx context.Context) error
	// RequestWarm handles a client `typing` signal (§4.4.7).
	RequestWarm(ctx context.Context)
}

// Hub is the single WebSocket endpoint for a session instance. It holds at
// most one sandbox connection and any number of authenticated client
// connections.
type Hub struct {
	store   Store
	hooks   Hooks
	limiter *RateLimiter

	authDeadline time.Duration

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	sandbox *sandboxConn
}

// New constructs a Hub. authDeadline is the window a client socket has to
// deliver a subscribe message (spec.md §4.2 default 30s, config.Config's
// AuthDeadline).
func New(st Store, hooks Hooks, authDeadline time.Duration) *Hub {
	return &Hub{
		store:        st,
		hooks:        hooks,
		limiter:      NewRateLimiter(rateLimitPerSecond, rateLimitBurst),
		authDeadline: authDeadline,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

const (
	rateLimitPerSecond = 5
	rateLimitBurst     = 20
)

// ServeHTTP is the single upgrade endpoint (spec.md §6): `?type=sandbox`
// selects sandbox semantics, any other request is a client connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow(clientIP(r)) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	if r.URL.Query().Get("type") == "sandbox" {
		h.acceptSandbox(w, r)
		return
	}
	h.acceptClient(w, r)
}

// acceptSandbox implements the sandbox half of §4.2 "Accepting connections".
func (h *Hub) acceptSandbox(w http.ResponseWriter, r *http.Request) {
	sb, err := h.store.GetSandbox()
	if err != nil {
		http.Error(w, "sandbox state unavailable", http.StatusInternalServerError)
		return
	}

	declaredID := r.URL.Query().Get("sandboxId")
	authToken := bearerToken(r)
	if authToken == "" || authToken != sb.AuthToken || declaredID == "" || declaredID != sb.ExternalSandboxID {
		http.Error(w, "sandbox authentication failed", http.StatusUnauthorized)
		return
	}
	if sb.Status == "stopped" || sb.Status == "stale" {
		http.Error(w, "sandbox is terminal", http.StatusGone)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("sandbox websocket upgrade failed", slog.Any("error", err))
		return
	}

	h.mu.Lock()
	previous := h.sandbox
	sc := newSandboxConn(conn, h)
	h.sandbox = sc
	h.mu.Unlock()

	if previous != nil {
		_ = previous.close(websocket.CloseNormalClosure, "New sandbox connecting")
	}

	now := time.Now().UnixMilli()
	if err := h.store.SetSandboxStatus("ready", now); err != nil {
		slog.Error("setting sandbox status to ready failed", slog.Any("error", err))
	}
	if err := h.store.StampActivity(now); err != nil {
		slog.Error("stamping activity on sandbox connect failed", slog.Any("error", err))
	}

	go sc.writePump()
	go sc.readPump()

	h.hooks.OnSandboxConnected(context.Background())
}

// acceptClient implements the client half of §4.2 "Accepting connections".
func (h *Hub) acceptClient(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("client websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := newClient(store.NewID(), conn, h)
	go c.writePump()
	go c.readPump()

	go c.enforceAuthDeadline(h.authDeadline)
}

func (h *Hub) registerClient(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregisterClient(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	if c.authenticated {
		if err := h.store.DeleteMapping(c.id); err != nil {
			slog.Warn("deleting ws client mapping failed", slog.String("socket_id", c.id), slog.Any("error", err))
		}
		h.broadcastPresence()
	}
}

func (h *Hub) onSandboxClosed(sc *sandboxConn) {
	h.mu.Lock()
	if h.sandbox == sc {
		h.sandbox = nil
	}
	h.mu.Unlock()
	h.hooks.OnSandboxDisconnected()
}

// Broadcast implements lifecycle.Broadcaster: every open client socket
// (sandbox excluded) receives the event; a non-open socket or a send error
// is logged and skipped, never blocking the others (§4.2).
func (h *Hub) Broadcast(eventType string, payload any) {
	data, err := encodeEnvelope(eventType, payload)
	if err != nil {
		slog.Error("encoding broadcast envelope failed", slog.String("type", eventType), slog.Any("error", err))
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.enqueue(data)
	}
}

func (h *Hub) broadcastPresence() {
	h.mu.RLock()
	participants := make([]presenceEntry, 0, len(h.clients))
	for _, c := range h.clients {
		if !c.authenticated {
			continue
		}
		participants = append(participants, c.presence())
	}
	h.mu.RUnlock()
	h.Broadcast("presence_update", map[string]any{"participants": participants})
}

// ClientCount reports the number of currently connected client sockets
// (sandbox excluded), feeding lifecycle.Controller.CheckInactivity's
// connectedClientCount argument.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsOpen implements lifecycle.SandboxLink / queue.SandboxLink.
func (h *Hub) IsOpen() bool {
	h.mu.RLock()
	sc := h.sandbox
	h.mu.RUnlock()
	return sc != nil && sc.isOpen()
}

// SendShutdown implements lifecycle.SandboxLink.
func (h *Hub) SendShutdown() error {
	sc := h.currentSandbox()
	if sc == nil {
		return errNoSandbox
	}
	return sc.sendShutdown()
}

// Close implements lifecycle.SandboxLink: closes the current sandbox
// socket, if any, with the given WebSocket close code and reason.
func (h *Hub) Close(code int, reason string) error {
	h.mu.Lock()
	sc := h.sandbox
	h.sandbox = nil
	h.mu.Unlock()
	if sc == nil {
		return nil
	}
	return sc.close(code, reason)
}

// Send implements queue.SandboxLink: dispatches a prompt command to the
// sandbox.
func (h *Hub) Send(cmd queue.PromptCommand) error {
	sc := h.currentSandbox()
	if sc == nil {
		return errNoSandbox
	}
	return sc.sendPrompt(cmd)
}

// SendStop best-effort relays `{type:"stop"}` to the sandbox socket
// (`POST /internal/stop`, coordinator→sandbox `stop` command, §6).
func (h *Hub) SendStop() error {
	sc := h.currentSandbox()
	if sc == nil {
		return errNoSandbox
	}
	return sc.sendStop()
}

// SendPush dispatches a push command to the sandbox and returns an error
// if no sandbox is connected, letting the PR path (§4.6 step 4) treat that
// as "assume the user pushed manually".
func (h *Hub) SendPush(branchName, repoOwner, repoName, githubToken string) error {
	sc := h.currentSandbox()
	if sc == nil {
		return errNoSandbox
	}
	return sc.sendPush(branchName, repoOwner, repoName, githubToken)
}

func (h *Hub) currentSandbox() *sandboxConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sandbox
}

var errNoSandbox = errors.New("hub: no sandbox connected")

func encodeEnvelope(eventType string, payload any) ([]byte, error) {
	fields := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling envelope payload: %w", err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("flattening envelope payload: %w", err)
		}
	}
	fields["type"] = eventType
	return json.Marshal(fields)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
