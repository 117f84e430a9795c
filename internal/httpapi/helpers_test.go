package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// errNotConnected simulates a disconnected sandbox socket for tests that
// exercise best-effort send paths.
var errNotConnected = errors.New("sandbox not connected")

// newRequest builds an *http.Request with an optional JSON body, bearer
// auth intentionally left for the caller to set.
func newRequest(method, url string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	return http.NewRequest(method, url, r)
}

// doInternal sends a request against a handler directly (not over a real
// listener), pre-authenticated with the app's internal token, and decodes
// the JSON response body into dest if non-nil.
func doInternal(t *testing.T, ta *testApp, method, path string, body any, dest any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		r = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+ta.app.Config.InternalAPIToken)

	rec := httptest.NewRecorder()
	ta.app.Handler().ServeHTTP(rec, req)

	if dest != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
			t.Fatalf("unmarshal response body %q: %v", rec.Body.String(), err)
		}
	}
	return rec
}

// doInternalRaw is doInternal for callers that need to send a malformed (or
// otherwise non-struct-marshalable) raw body, such as invalid JSON.
func doInternalRaw(t *testing.T, ta *testApp, method, path, rawBody string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(rawBody))
	req.Header.Set("Authorization", "Bearer "+ta.app.Config.InternalAPIToken)

	rec := httptest.NewRecorder()
	ta.app.Handler().ServeHTTP(rec, req)
	return rec
}
