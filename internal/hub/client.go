package hub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentforge/coordinator/internal/store"
)

// clientSendBuf mirrors the teacher's SSE fan-out buffer size: a send that
// would block past this many queued messages means the client is stalled,
// and is dropped rather than stalling the broadcaster.
const clientSendBuf = 32

// client is one authenticated-or-authenticating browser/extension socket.
type client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub

	send chan []byte

	mu             sync.Mutex
	authenticated  bool
	participantID  string
	clientID       string
	presenceStatus string
	presenceCursor string

	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, h *Hub) *client {
	return &client{
		id:   id,
		conn: conn,
		hub:  h,
		send: make(chan []byte, clientSendBuf),
	}
}

func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("dropping broadcast to slow client", slog.String("socket_id", c.id))
	}
}

// enforceAuthDeadline closes the socket with code 4008 if no subscribe
// arrives within d (§4.2).
func (c *client) enforceAuthDeadline(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	<-timer.C
	c.mu.Lock()
	authed := c.authenticated
	c.mu.Unlock()
	if !authed {
		c.closeWithCode(CloseAuthenticationTimeout, "Authentication timeout")
	}
}

func (c *client) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (c *client) readPump() {
	defer c.teardown()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(raw)
	}
}

func (c *client) teardown() {
	c.closeOnce.Do(func() {
		close(c.send)
		c.hub.unregisterClient(c)
		_ = c.conn.Close()
	})
}

func (c *client) closeWithCode(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	_ = c.conn.Close()
}

type clientEnvelope struct {
	Type string `json:"type"`
}

// handleMessage dispatches one client→server frame by its `type`
// discriminator (spec.md §6).
func (c *client) handleMessage(raw []byte) {
	var env clientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.enqueue(mustEnvelope("error", map[string]string{"code": "INVALID_MESSAGE", "message": "malformed json"}))
		return
	}

	switch env.Type {
	case "ping":
		c.enqueue(mustEnvelope("pong", map[string]int64{"timestamp": time.Now().UnixMilli()}))
	case "subscribe":
		c.handleSubscribe(raw)
	case "prompt":
		c.handlePrompt(raw)
	case "stop":
		c.handleStop()
	case "typing":
		c.handleTyping()
	case "presence":
		c.handlePresence(raw)
	default:
		c.enqueue(mustEnvelope("error", map[string]string{"code": "INVALID_MESSAGE", "message": fmt.Sprintf("unknown message type %q", env.Type)}))
	}
}

func (c *client) requireAuthenticated() bool {
	c.mu.Lock()
	ok := c.authenticated
	c.mu.Unlock()
	if !ok {
		c.enqueue(mustEnvelope("error", map[string]string{"code": "INVALID_MESSAGE", "message": "not subscribed"}))
	}
	return ok
}

type subscribeMessage struct {
	Token    string `json:"token"`
	ClientID string `json:"clientId"`
}

// handleSubscribe validates the plaintext token by hashing it and matching
// against participants.ws_auth_token (§4.2).
func (c *client) handleSubscribe(raw []byte) {
	var msg subscribeMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Token == "" {
		c.closeWithCode(CloseInvalidToken, "Invalid authentication token")
		return
	}

	sum := sha256.Sum256([]byte(msg.Token))
	hash := hex.EncodeToString(sum[:])
	p, err := c.hub.store.FindParticipantByWSTokenHash(hash)
	if err != nil {
		c.closeWithCode(CloseInvalidToken, "Invalid authentication token")
		return
	}

	c.mu.Lock()
	c.authenticated = true
	c.participantID = p.ID
	c.clientID = msg.ClientID
	c.presenceStatus = "active"
	c.mu.Unlock()

	now := time.Now().UnixMilli()
	if err := c.hub.store.RecordMapping(&store.WSClientMapping{
		SocketID: c.id, ParticipantID: p.ID, ClientID: msg.ClientID, CreatedAt: now,
	}); err != nil {
		slog.Error("recording ws client mapping failed", slog.String("socket_id", c.id), slog.Any("error", err))
	}

	c.hub.registerClient(c)
	c.sendSubscribed(p)
	c.sendHistory()
	c.hub.broadcastPresence()
}

func (c *client) sendSubscribed(p *store.Participant) {
	sess, err := c.hub.store.GetSession()
	state := "unknown"
	sessionID := ""
	if err == nil {
		state = string(sess.Status)
		sessionID = sess.ID
	}
	c.enqueue(mustEnvelope("subscribed", map[string]any{
		"sessionId":     sessionID,
		"state":         state,
		"participantId": p.ID,
		"participant":   publicParticipant(p),
	}))
}

// historyItem is the interleaved replay shape: a message or event tagged
// with its own createdAt so the client can merge-sort them (§4.2).
type historyItem struct {
	CreatedAt int64
	Payload   map[string]any
}

// sendHistory replays up to 100 messages + 500 events ordered by creation
// timestamp, followed by current presence (§4.2).
func (c *client) sendHistory() {
	msgs, evts, err := c.hub.store.RecentHistory(historyMessageLimit, historyEventLimit)
	if err != nil {
		slog.Error("loading subscribe history failed", slog.String("socket_id", c.id), slog.Any("error", err))
		return
	}

	items := make([]historyItem, 0, len(msgs)+len(evts))
	for _, m := range msgs {
		items = append(items, historyItem{CreatedAt: m.CreatedAt, Payload: map[string]any{
			"kind": "message", "id": m.ID, "authorId": m.AuthorID, "content": m.Content,
			"status": m.Status, "createdAt": m.CreatedAt,
		}})
	}
	for _, e := range evts {
		items = append(items, historyItem{CreatedAt: e.CreatedAt, Payload: map[string]any{
			"kind": "event", "id": e.ID, "type": e.Type, "data": json.RawMessage(e.DataJSON),
			"messageId": e.MessageID, "createdAt": e.CreatedAt,
		}})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt < items[j].CreatedAt })

	history := make([]map[string]any, len(items))
	for i, it := range items {
		history[i] = it.Payload
	}
	c.enqueue(mustEnvelope("history", map[string]any{"items": history}))

	c.sendPresenceSync()
}

func (c *client) sendPresenceSync() {
	participants, err := c.hub.store.ListParticipants()
	if err != nil {
		slog.Error("listing participants for presence sync failed", slog.Any("error", err))
		return
	}
	c.enqueue(mustEnvelope("presence_sync", map[string]any{"participants": publicParticipants(participants)}))
}

func (c *client) presence() presenceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return presenceEntry{ParticipantID: c.participantID, Status: c.presenceStatus, Cursor: c.presenceCursor}
}

type presenceEntry struct {
	ParticipantID string `json:"participantId"`
	Status        string `json:"status"`
	Cursor        string `json:"cursor,omitempty"`
}

type promptMessage struct {
	Content     string          `json:"content"`
	Model       string          `json:"model"`
	Attachments json.RawMessage `json:"attachments"`
}

func (c *client) handlePrompt(raw []byte) {
	if !c.requireAuthenticated() {
		return
	}
	var msg promptMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Content == "" {
		c.enqueue(mustEnvelope("error", map[string]string{"code": "INVALID_MESSAGE", "message": "invalid prompt"}))
		return
	}
	c.mu.Lock()
	authorID := c.participantID
	c.mu.Unlock()

	attachments := ""
	if len(msg.Attachments) > 0 {
		attachments = string(msg.Attachments)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	messageID, position, err := c.hub.hooks.EnqueuePrompt(ctx, authorID, msg.Content, msg.Model, attachments)
	if err != nil {
		c.enqueue(mustEnvelope("error", map[string]string{"code": "INVALID_MESSAGE", "message": err.Error()}))
		return
	}
	c.enqueue(mustEnvelope("prompt_queued", map[string]any{"messageId": messageID, "position": position}))
}

func (c *client) handleStop() {
	if !c.requireAuthenticated() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.hub.hooks.RequestStop(ctx); err != nil {
		slog.Warn("relaying stop command failed", slog.Any("error", err))
	}
}

func (c *client) handleTyping() {
	if !c.requireAuthenticated() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.hub.hooks.RequestWarm(ctx)
}

type presenceMessage struct {
	Status string `json:"status"`
	Cursor string `json:"cursor"`
}

func (c *client) handlePresence(raw []byte) {
	if !c.requireAuthenticated() {
		return
	}
	var msg presenceMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	c.mu.Lock()
	c.presenceStatus = msg.Status
	c.presenceCursor = msg.Cursor
	c.mu.Unlock()
	c.hub.broadcastPresence()
}

func mustEnvelope(eventType string, payload any) []byte {
	data, err := encodeEnvelope(eventType, payload)
	if err != nil {
		slog.Error("encoding client envelope failed", slog.String("type", eventType), slog.Any("error", err))
		return []byte(fmt.Sprintf(`{"type":%q}`, eventType))
	}
	return data
}

func publicParticipant(p *store.Participant) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"userId":      p.UserID,
		"login":       p.HostLogin,
		"displayName": p.HostDisplayName,
		"role":        p.Role,
	}
}

func publicParticipants(ps []*store.Participant) []map[string]any {
	out := make([]map[string]any, len(ps))
	for i, p := range ps {
		out[i] = publicParticipant(p)
	}
	return out
}
