package httpapi

import (
	"net/http/httptest"
	"testing"

	"github.com/agentforge/coordinator/internal/config"
)

// testApp bundles an App wired to fakes, plus the fakes themselves so tests
// can assert on side effects (broadcasts, drives, dispatches, etc).
type testApp struct {
	app      *App
	store    *fakeStore
	queue    *fakeQueue
	hub      *fakeHub
	events   *fakeEvents
	codeHost *fakeCodeHost
	identity *fakeIdentity
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	hub := newFakeHub()
	t.Cleanup(hub.Close)

	ta := &testApp{
		store:    newFakeStore(),
		queue:    &fakeQueue{},
		hub:      hub,
		events:   &fakeEvents{},
		codeHost: &fakeCodeHost{},
		identity: &fakeIdentity{token: "installation-token"},
	}
	ta.app = &App{
		Store:    ta.store,
		Queue:    ta.queue,
		Hub:      ta.hub,
		Events:   ta.events,
		CodeHost: ta.codeHost,
		Identity: ta.identity,
		Sealer:   fakeSealer{},
		Config:   &config.Config{InternalAPIToken: "test-internal-token"},
	}
	return ta
}

func TestHandler_RejectsMissingInternalToken(t *testing.T) {
	ta := newTestApp(t)
	srv := httptest.NewServer(ta.app.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/internal/state")
	if err != nil {
		t.Fatalf("GET /internal/state: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 401 {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHandler_RejectsWrongInternalToken(t *testing.T) {
	ta := newTestApp(t)
	srv := httptest.NewServer(ta.app.Handler())
	defer srv.Close()

	req, _ := newRequest("GET", srv.URL+"/internal/state", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /internal/state: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 401 {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
