// Package callback sends the outbound HMAC-signed completion notifications
// described in spec.md's "Outbound callbacks" section: when a message
// carries a callback_context, the coordinator posts a signed JSON body to
// the caller-supplied endpoint once the message finishes.
package callback

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	requestTimeout = 10 * time.Second
	maxAttempts    = 2
	retryDelay     = 1 * time.Second
)

// Payload is the unsigned body of an outbound callback. Signature is
// computed over the JSON encoding of this struct with Signature left empty,
// then attached before sending.
type Payload struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Success   bool   `json:"success"`
	Timestamp string `json:"timestamp"`
	Context   any    `json:"context"`
	Signature string `json:"signature"`
}

// Sender posts signed completion notifications. A single Sender is shared
// across sessions; the secret is process-wide configuration
// (COORDINATOR_CALLBACK_SECRET), not per-session state.
type Sender struct {
	secret     string
	httpClient *http.Client
}

// NewSender builds a Sender. secret must be non-empty; callers validate this
// at startup (internal/config.Config.Validate).
func NewSender(secret string) *Sender {
	return &Sender{
		secret:     secret,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Send signs body and POSTs it to url, retrying once after retryDelay on
// failure. A failed delivery is logged and returned as an error but never
// treated as fatal by callers — completion has already happened regardless
// of whether the notification lands.
func (s *Sender) Send(ctx context.Context, url string, body Payload) error {
	signed, err := s.sign(body)
	if err != nil {
		return fmt.Errorf("callback: signing payload: %w", err)
	}

	encoded, err := json.Marshal(signed)
	if err != nil {
		return fmt.Errorf("callback: encoding signed payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		lastErr = s.post(ctx, url, encoded)
		if lastErr == nil {
			return nil
		}

		slog.Warn("callback delivery attempt failed",
			slog.String("session_id", body.SessionID),
			slog.String("message_id", body.MessageID),
			slog.Int("attempt", attempt),
			slog.Any("error", lastErr))
	}

	return fmt.Errorf("callback: delivering to %s after %d attempts: %w", url, maxAttempts, lastErr)
}

func (s *Sender) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// sign computes the HMAC-SHA-256 signature over the canonical JSON of body
// with Signature cleared, and returns a copy of body with Signature set to
// the hex-encoded digest.
func (s *Sender) sign(body Payload) (Payload, error) {
	body.Signature = ""

	canonical, err := json.Marshal(body)
	if err != nil {
		return Payload{}, err
	}

	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(canonical)
	body.Signature = hex.EncodeToString(mac.Sum(nil))

	return body, nil
}

// Verify reports whether signature is the correct HMAC-SHA-256 hex digest
// of body (with Signature cleared) under secret. Exposed for recipients
// that embed this package to validate inbound callbacks in tests.
func Verify(body Payload, secret string) bool {
	want, err := (&Sender{secret: secret}).sign(body)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want.Signature), []byte(body.Signature))
}
