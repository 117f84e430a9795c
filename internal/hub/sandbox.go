package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentforge/coordinator/internal/queue"
)

// sandboxSendBuf bounds the sandbox command outbox; unlike client fan-out,
// a full buffer here means a command genuinely cannot be delivered, so
// sendPrompt/sendStop/sendShutdown/sendPush return an error rather than
// silently dropping.
const sandboxSendBuf = 16

// sandboxConn is the single live WebSocket connection to the sandbox's
// coding agent. It implements the sending half of lifecycle.SandboxLink and
// queue.SandboxLink through Hub's delegating methods.
type sandboxConn struct {
	conn *websocket.Conn
	hub  *Hub

	send chan []byte

	mu     sync.Mutex
	open   bool
	closed sync.Once
}

func newSandboxConn(conn *websocket.Conn, h *Hub) *sandboxConn {
	return &sandboxConn{conn: conn, hub: h, send: make(chan []byte, sandboxSendBuf), open: true}
}

func (sc *sandboxConn) isOpen() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.open
}

func (sc *sandboxConn) writePump() {
	for data := range sc.send {
		if err := sc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (sc *sandboxConn) readPump() {
	defer sc.teardown()
	for {
		_, raw, err := sc.conn.ReadMessage()
		if err != nil {
			return
		}
		sc.handleEvent(raw)
	}
}

func (sc *sandboxConn) teardown() {
	sc.closed.Do(func() {
		sc.mu.Lock()
		sc.open = false
		sc.mu.Unlock()
		close(sc.send)
		_ = sc.conn.Close()
		sc.hub.onSandboxClosed(sc)
	})
}

// handleEvent forwards every inbound sandbox frame verbatim to the Sandbox
// Event Router (§4.5) for persistence and dispatch. The router owns
// broadcasting the decoded event to clients as `sandbox_event`; the hub
// itself never re-broadcasts the raw frame.
func (sc *sandboxConn) handleEvent(raw []byte) {
	sc.hub.hooks.OnSandboxEvent(context.Background(), json.RawMessage(raw))
}

func (sc *sandboxConn) enqueue(data []byte) error {
	select {
	case sc.send <- data:
		return nil
	default:
		return fmt.Errorf("sandbox send buffer full")
	}
}

type sandboxPromptCommand struct {
	Type        string `json:"type"`
	MessageID   string `json:"messageId"`
	Content     string `json:"content"`
	Model       string `json:"model"`
	Author      string `json:"author"`
	Attachments string `json:"attachments,omitempty"`
}

func (sc *sandboxConn) sendPrompt(cmd queue.PromptCommand) error {
	data, err := json.Marshal(sandboxPromptCommand{
		Type: "prompt", MessageID: cmd.MessageID, Content: cmd.Content,
		Model: cmd.Model, Author: cmd.Author, Attachments: cmd.Attachments,
	})
	if err != nil {
		return fmt.Errorf("encoding prompt command: %w", err)
	}
	return sc.enqueue(data)
}

func (sc *sandboxConn) sendStop() error {
	return sc.enqueue([]byte(`{"type":"stop"}`))
}

func (sc *sandboxConn) sendShutdown() error {
	return sc.enqueue([]byte(`{"type":"shutdown"}`))
}

type sandboxPushCommand struct {
	Type        string `json:"type"`
	BranchName  string `json:"branchName"`
	RepoOwner   string `json:"repoOwner"`
	RepoName    string `json:"repoName"`
	GithubToken string `json:"githubToken,omitempty"`
}

func (sc *sandboxConn) sendPush(branchName, repoOwner, repoName, githubToken string) error {
	data, err := json.Marshal(sandboxPushCommand{
		Type: "push", BranchName: branchName, RepoOwner: repoOwner, RepoName: repoName, GithubToken: githubToken,
	})
	if err != nil {
		return fmt.Errorf("encoding push command: %w", err)
	}
	return sc.enqueue(data)
}

// close sends a WebSocket close frame with the given code/reason and tears
// the connection down.
func (sc *sandboxConn) close(code int, reason string) error {
	sc.mu.Lock()
	wasOpen := sc.open
	sc.mu.Unlock()
	if !wasOpen {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	if err := sc.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		slog.Warn("writing sandbox close frame failed", slog.Any("error", err))
	}
	sc.teardown()
	return nil
}
