package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// redirectTransport rewrites every outbound request to target instead,
// letting the GitHub SDK's production base URL be pointed at an
// httptest.Server without needing to mutate unexported client fields.
type redirectTransport struct {
	target *url.URL
}

func (rt *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func TestClient_GenerateInstallationToken(t *testing.T) {
	_, keyPEM := generateTestKey(t)

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if !strings.Contains(r.URL.Path, "/installations/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"token":"ghs_installation_token","expires_at":%q}`,
			time.Now().Add(time.Hour).Format(time.RFC3339))
	}))
	defer srv.Close()

	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server url: %v", err)
	}

	c, err := NewClient("app-123", keyPEM)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	c.httpClient = &http.Client{Transport: &redirectTransport{target: target}}

	token, expiresAt, err := c.GenerateInstallationToken(context.Background(), 42)
	if err != nil {
		t.Fatalf("GenerateInstallationToken() error = %v", err)
	}
	if token != "ghs_installation_token" {
		t.Errorf("token = %q, want ghs_installation_token", token)
	}
	if expiresAt.Before(time.Now()) {
		t.Errorf("expiresAt = %v, want future time", expiresAt)
	}
	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Errorf("Authorization header = %q, want Bearer <app jwt>", gotAuth)
	}
}

func TestNewClient_InvalidPrivateKey(t *testing.T) {
	if _, err := NewClient("app-123", []byte("not a key")); err == nil {
		t.Fatal("expected error for invalid private key")
	}
}
