// Package identity implements the Identity port of spec.md §6: minting
// short-lived installation tokens for the code-host, and verifying a
// participant's host-issued identity token before a session token is minted
// for them.
package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// appJWTExpiry and appJWTClockSkew match spec.md §6: "iat = now-60s,
// exp = now+600s, iss = appId".
const (
	appJWTClockSkew = 60 * time.Second
	appJWTExpiry    = 600 * time.Second
)

// mintAppJWT signs the RS256 JWT a GitHub App authenticates itself with.
func mintAppJWT(appID string, key *rsa.PrivateKey, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-appJWTClockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTExpiry)),
		Issuer:    appID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("identity: signing app jwt: %w", err)
	}
	return signed, nil
}

// parsePrivateKey accepts either PKCS#1 ("BEGIN RSA PRIVATE KEY") or PKCS#8
// ("BEGIN PRIVATE KEY") PEM encodings, matching what GitHub App settings
// pages hand out.
func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("identity: invalid PEM private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parsing private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("identity: private key is not RSA")
	}
	return rsaKey, nil
}
