// Package httpapi assembles the session coordinator's HTTP surface: the
// control-plane-facing /internal/* API (spec.md §6) plus the WebSocket
// upgrade endpoint served at "/" by internal/hub.Hub. It follows the
// reference's handler-assembly idiom (App holds dependencies, Handler()
// builds the mux, a thin handlers type binds methods to the App) but routes
// with Go 1.22+ method-and-path ServeMux patterns instead of the reference's
// per-method switch statements, since every route here maps to exactly one
// HTTP method.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/agentforge/coordinator/internal/codehost"
	"github.com/agentforge/coordinator/internal/config"
	"github.com/agentforge/coordinator/internal/httpapi/middleware"
	"github.com/agentforge/coordinator/internal/identity"
	"github.com/agentforge/coordinator/internal/store"
)

// Store is the persistence surface this package needs, narrowed from
// *store.Store the same way internal/hub.Store and internal/eventrouter.Store
// narrow it: every /internal/* handler here is satisfied directly by the
// real store, but tests can substitute a fake without touching SQLite.
type Store interface {
	CreateSession(sess *store.Session) error
	GetSession() (*store.Session, error)
	UpdateSessionBranch(branch string, now int64) error
	SetSessionStatus(status store.SessionStatus, now int64) error
	GetSandbox() (*store.Sandbox, error)
	CreateParticipant(p *store.Participant) error
	GetParticipant(id string) (*store.Participant, error)
	GetParticipantByUserID(userID string) (*store.Participant, error)
	ListParticipants() ([]*store.Participant, error)
	SetWSAuthToken(participantID, tokenHash string, issuedAt, now int64) error
	EnqueueMessage(m *store.Message) (int, error)
	ListMessages(cursor int64, limit int, status store.MessageStatus) ([]*store.Message, error)
	CurrentlyProcessing() (*store.Message, error)
	ListEvents(cursor int64, limit int, eventType store.EventType, messageID string) ([]*store.Event, int64, error)
	ListArtifacts() ([]*store.Artifact, error)
	CreateArtifact(a *store.Artifact) error
}

// Queue re-drives the prompt queue after a new message is enqueued.
type Queue interface {
	Drive(ctx context.Context) error
}

// Hub is the subset of *hub.Hub the API needs: the WebSocket upgrade
// handler itself, plus the send/broadcast operations triggered by HTTP
// calls.
type Hub interface {
	http.Handler
	Broadcast(eventType string, payload any)
	IsOpen() bool
	SendStop() error
	SendPush(branchName, repoOwner, repoName, githubToken string) error
}

// Events is the subset of *eventrouter.Router the API needs: ingesting an
// HTTP-posted sandbox event, and awaiting a pull-request push's result.
type Events interface {
	Dispatch(ctx context.Context, raw json.RawMessage) error
	AwaitPush(ctx context.Context, branchName string) error
}

// Sealer encrypts/decrypts host access tokens at rest, narrowed from
// *crypto.Sealer.
type Sealer interface {
	EncryptString(plaintext string) (string, error)
	DecryptString(encoded string) (string, error)
}

// App holds every dependency the /internal/* API needs. internal/coordinator
// constructs one of these per instance and calls Handler() to get the
// complete http.Handler to serve.
type App struct {
	Store    Store
	Queue    Queue
	Hub      Hub
	Events   Events
	CodeHost codehost.Port
	Identity identity.Port
	Sealer   Sealer
	Config   *config.Config
}

// handlers binds HTTP handler methods to an App's dependencies, matching
// the reference's handlers{app *App} split between route assembly and
// route logic.
type handlers struct {
	app *App
}

// Handler builds the complete HTTP handler: the /internal/* control-plane
// API behind the shared-secret middleware, and the WebSocket upgrade
// endpoint at "/" (authenticated per-connection by internal/hub, not by
// the internal token).
func (a *App) Handler() http.Handler {
	h := &handlers{app: a}

	internalMux := http.NewServeMux()
	internalMux.HandleFunc("POST /internal/init", h.handleInit)
	internalMux.HandleFunc("GET /internal/state", h.handleState)
	internalMux.HandleFunc("POST /internal/prompt", h.handlePrompt)
	internalMux.HandleFunc("POST /internal/stop", h.handleStop)
	internalMux.HandleFunc("POST /internal/sandbox-event", h.handleSandboxEvent)
	internalMux.HandleFunc("GET /internal/participants", h.handleParticipantsList)
	internalMux.HandleFunc("POST /internal/participants", h.handleParticipantsCreate)
	internalMux.HandleFunc("GET /internal/events", h.handleEvents)
	internalMux.HandleFunc("GET /internal/artifacts", h.handleArtifacts)
	internalMux.HandleFunc("GET /internal/messages", h.handleMessages)
	internalMux.HandleFunc("POST /internal/create-pr", h.handleCreatePR)
	internalMux.HandleFunc("POST /internal/ws-token", h.handleWSToken)
	internalMux.HandleFunc("POST /internal/archive", h.handleArchive)
	internalMux.HandleFunc("POST /internal/unarchive", h.handleUnarchive)
	internalMux.HandleFunc("POST /internal/verify-sandbox-token", h.handleVerifySandboxToken)

	mux := http.NewServeMux()
	mux.Handle("/internal/", middleware.RequireInternalToken(a.Config.InternalAPIToken)(internalMux))
	mux.Handle("/", a.Hub)

	return middleware.SecurityHeaders(middleware.RequestID(mux))
}

// writeJSON encodes v as the JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a validation-style {error: reason} body, matching
// spec.md §7's HTTP 4xx error shape.
func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}

// decodeJSON reads and unmarshals a JSON request body, capping it well
// above any legitimate /internal/* payload to bound memory use from a
// malicious or buggy control-plane caller.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(dest)
}
