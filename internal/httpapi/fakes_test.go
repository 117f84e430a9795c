package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"time"

	"github.com/agentforge/coordinator/internal/codehost"
	"github.com/agentforge/coordinator/internal/store"
)

type fakeStore struct {
	session      *store.Session
	sandbox      *store.Sandbox
	participants map[string]*store.Participant
	messages     map[string]*store.Message
	events       []*store.Event
	artifacts    []*store.Artifact

	createSessionErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sandbox:      &store.Sandbox{Status: "pending"},
		participants: map[string]*store.Participant{},
		messages:     map[string]*store.Message{},
	}
}

func (f *fakeStore) CreateSession(sess *store.Session) error {
	if f.createSessionErr != nil {
		return f.createSessionErr
	}
	f.session = sess
	return nil
}

func (f *fakeStore) GetSession() (*store.Session, error) {
	if f.session == nil {
		return nil, store.ErrNotFound
	}
	return f.session, nil
}

func (f *fakeStore) UpdateSessionBranch(branch string, now int64) error {
	f.session.BranchName = branch
	return nil
}

func (f *fakeStore) SetSessionStatus(status store.SessionStatus, now int64) error {
	f.session.Status = status
	return nil
}

func (f *fakeStore) GetSandbox() (*store.Sandbox, error) {
	return f.sandbox, nil
}

func (f *fakeStore) CreateParticipant(p *store.Participant) error {
	f.participants[p.ID] = p
	return nil
}

func (f *fakeStore) GetParticipant(id string) (*store.Participant, error) {
	p, ok := f.participants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetParticipantByUserID(userID string) (*store.Participant, error) {
	for _, p := range f.participants {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListParticipants() ([]*store.Participant, error) {
	out := make([]*store.Participant, 0, len(f.participants))
	for _, p := range f.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) SetWSAuthToken(participantID, tokenHash string, issuedAt, now int64) error {
	p, ok := f.participants[participantID]
	if !ok {
		return store.ErrNotFound
	}
	p.WSAuthTokenHash = tokenHash
	p.WSAuthTokenIssuedAt = issuedAt
	return nil
}

func (f *fakeStore) EnqueueMessage(m *store.Message) (int, error) {
	m.Status = store.MessagePending
	f.messages[m.ID] = m
	return len(f.messages), nil
}

func (f *fakeStore) ListMessages(cursor int64, limit int, status store.MessageStatus) ([]*store.Message, error) {
	var out []*store.Message
	for _, m := range f.messages {
		if status != "" && m.Status != status {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (f *fakeStore) CurrentlyProcessing() (*store.Message, error) {
	for _, m := range f.messages {
		if m.Status == store.MessageProcessing {
			return m, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListEvents(cursor int64, limit int, eventType store.EventType, messageID string) ([]*store.Event, int64, error) {
	out := append([]*store.Event(nil), f.events...)
	var next int64
	if len(out) > 0 {
		next = out[len(out)-1].CreatedAt
	}
	return out, next, nil
}

func (f *fakeStore) ListArtifacts() ([]*store.Artifact, error) {
	return f.artifacts, nil
}

func (f *fakeStore) CreateArtifact(a *store.Artifact) error {
	f.artifacts = append(f.artifacts, a)
	return nil
}

type fakeQueue struct {
	drives int
	err    error
}

func (f *fakeQueue) Drive(ctx context.Context) error {
	f.drives++
	return f.err
}

type fakeHub struct {
	*httptest.Server
	broadcasts []string
	open       bool
	stopCalls  int
	pushCalls  int
	sendErr    error
}

func newFakeHub() *fakeHub {
	h := &fakeHub{}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	}))
	return h
}

func (f *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.Server.Config.Handler.ServeHTTP(w, r)
}
func (f *fakeHub) Broadcast(eventType string, payload any) {
	f.broadcasts = append(f.broadcasts, eventType)
}
func (f *fakeHub) IsOpen() bool    { return f.open }
func (f *fakeHub) SendStop() error { f.stopCalls++; return f.sendErr }
func (f *fakeHub) SendPush(branchName, repoOwner, repoName, githubToken string) error {
	f.pushCalls++
	return f.sendErr
}

type fakeEvents struct {
	dispatched  []json.RawMessage
	dispatchErr error
	awaitErr    error
}

func (f *fakeEvents) Dispatch(ctx context.Context, raw json.RawMessage) error {
	f.dispatched = append(f.dispatched, raw)
	return f.dispatchErr
}
func (f *fakeEvents) AwaitPush(ctx context.Context, branchName string) error {
	return f.awaitErr
}

type fakeSealer struct{}

func (fakeSealer) EncryptString(plaintext string) (string, error) { return "enc:" + plaintext, nil }
func (fakeSealer) DecryptString(encoded string) (string, error)   { return encoded[len("enc:"):], nil }

type fakeCodeHost struct {
	repo   codehost.Repository
	pr     codehost.PullRequest
	getErr error
	prErr  error
}

func (f *fakeCodeHost) GetRepository(ctx context.Context, owner, name, userToken string) (codehost.Repository, error) {
	if f.getErr != nil {
		return codehost.Repository{}, f.getErr
	}
	return f.repo, nil
}

func (f *fakeCodeHost) CreatePullRequest(ctx context.Context, req codehost.CreatePullRequestRequest) (codehost.PullRequest, error) {
	if f.prErr != nil {
		return codehost.PullRequest{}, f.prErr
	}
	return f.pr, nil
}

type fakeIdentity struct {
	token string
	err   error
}

func (f *fakeIdentity) GenerateInstallationToken(ctx context.Context, installationID int64) (string, time.Time, error) {
	return f.token, time.Now().Add(time.Hour), f.err
}
