package identity

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v68/github"
)

// installationTokenTimeout bounds the identity port's outbound HTTP call
// (spec.md §5: "identity: 60 s").
const installationTokenTimeout = 60 * time.Second

// Port is the Identity port of spec.md §6: mints a short-lived code-host
// credential for the pull-request path (§4.6) so the user's own OAuth token
// is never sent to the sandbox.
type Port interface {
	GenerateInstallationToken(ctx context.Context, installationID int64) (token string, expiresAt time.Time, err error)
}

// Client mints GitHub App installation tokens by signing an RS256 JWT with
// the app's private key (spec.md §6) and exchanging it for an installation
// access token through the GitHub Apps API.
type Client struct {
	appID      string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
}

// NewClient parses privateKeyPEM once at startup; GenerateInstallationToken
// mints a fresh app JWT on every call, since each is only valid ~10 minutes.
func NewClient(appID string, privateKeyPEM []byte) (*Client, error) {
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	return &Client{
		appID:      appID,
		privateKey: key,
		httpClient: &http.Client{Timeout: installationTokenTimeout},
	}, nil
}

// GenerateInstallationToken implements Port.
func (c *Client) GenerateInstallationToken(ctx context.Context, installationID int64) (string, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, installationTokenTimeout)
	defer cancel()

	appJWT, err := mintAppJWT(c.appID, c.privateKey, time.Now())
	if err != nil {
		return "", time.Time{}, err
	}

	gh := github.NewClient(c.httpClient).WithAuthToken(appJWT)
	tok, _, err := gh.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("identity: creating installation token: %w", err)
	}
	return tok.GetToken(), tok.GetExpiresAt().Time, nil
}

var _ Port = (*Client)(nil)
