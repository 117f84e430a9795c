package httpapi

import (
	"net/http"
	"testing"

	"github.com/agentforge/coordinator/internal/store"
)

func TestHandleArtifacts_Lists(t *testing.T) {
	ta := newTestApp(t)
	ta.store.artifacts = []*store.Artifact{
		{ID: "a1", Type: store.ArtifactPR, URL: "https://github.com/acme/widgets/pull/1"},
	}

	var resp map[string]any
	rec := doInternal(t, ta, "GET", "/internal/artifacts", nil, &resp)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	artifacts, ok := resp["artifacts"].([]any)
	if !ok || len(artifacts) != 1 {
		t.Fatalf("artifacts = %v, want 1 entry", resp["artifacts"])
	}
}

func TestHandleArtifacts_EmptyReturnsEmptyArray(t *testing.T) {
	ta := newTestApp(t)

	var resp map[string]any
	rec := doInternal(t, ta, "GET", "/internal/artifacts", nil, &resp)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	artifacts, ok := resp["artifacts"].([]any)
	if !ok || len(artifacts) != 0 {
		t.Fatalf("artifacts = %v, want empty array not null", resp["artifacts"])
	}
}
