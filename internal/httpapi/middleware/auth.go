package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// RequireInternalToken returns middleware that rejects any request lacking
// "Authorization: Bearer <token>" matching the configured internal API
// token. The /internal/* routes create sessions, inject prompts, and mint
// WebSocket tokens on behalf of the control plane, so they must never be
// reachable without this shared secret.
func RequireInternalToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				http.Error(w, "authorization required", http.StatusUnauthorized)
				return
			}

			supplied := strings.TrimPrefix(authHeader, prefix)
			if supplied == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireInternalTokenFunc adapts RequireInternalToken for use with a plain
// http.HandlerFunc.
func RequireInternalTokenFunc(token string, next http.HandlerFunc) http.HandlerFunc {
	return RequireInternalToken(token)(next).ServeHTTP
}
