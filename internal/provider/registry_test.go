package provider

import (
	"testing"

	"github.com/agentforge/coordinator/internal/config"
)

func TestNew_Kubernetes(t *testing.T) {
	cfg := &config.Config{ProviderBackend: "kubernetes", Namespace: "ns-1", SandboxImage: "myagent:v1"}

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := p.(*Kubernetes); !ok {
		t.Errorf("New() returned %T, want *Kubernetes", p)
	}
	if p.SupportsSnapshot() {
		t.Error("kubernetes provider should not support snapshots")
	}
}

func TestNew_Fake(t *testing.T) {
	cfg := &config.Config{ProviderBackend: "fake"}

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := p.(*Fake); !ok {
		t.Errorf("New() returned %T, want *Fake", p)
	}
}

func TestNew_UnsupportedBackend(t *testing.T) {
	cfg := &config.Config{ProviderBackend: "nomad"}

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}
