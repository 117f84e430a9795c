package identity

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// HostIdentity is the subset of a verified host identity token's claims
// that maps onto a Participant's code-host identity fields (spec.md §3).
type HostIdentity struct {
	Subject     string
	Login       string
	Email       string
	DisplayName string
}

// OIDCVerifier verifies a participant's host-issued identity token before a
// session WebSocket token is minted for them (SPEC_FULL §4.10). This is a
// narrow supplement: it never replaces the hashed ws_auth_token scheme that
// spec.md §4.2/§6 mandates for the WebSocket handshake itself.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the identity provider's configuration
// (.well-known/openid-configuration) and builds a verifier scoped to
// clientID.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("identity: discovering oidc provider at %s: %w", issuer, err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// Verify checks rawIDToken's signature, issuer, audience, and expiry, and
// extracts the claims used to populate a Participant's host identity.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (*HostIdentity, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("identity: verifying host identity token: %w", err)
	}

	var claims struct {
		Sub               string `json:"sub"`
		Email             string `json:"email"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("identity: parsing host identity claims: %w", err)
	}

	login := claims.PreferredUsername
	if login == "" {
		login = claims.Email
	}
	return &HostIdentity{
		Subject:     claims.Sub,
		Login:       login,
		Email:       claims.Email,
		DisplayName: claims.Name,
	}, nil
}
