package provider

import (
	"fmt"

	"github.com/agentforge/coordinator/internal/config"
	"github.com/agentforge/coordinator/internal/lifecycle"
	"github.com/agentforge/coordinator/internal/provider/kubernetes"
)

// New selects a lifecycle.Provider from cfg.ProviderBackend. config.Validate
// already rejects any value other than "kubernetes" or "fake", so the
// default case here only guards against a Config built without validation.
func New(cfg *config.Config) (lifecycle.Provider, error) {
	switch cfg.ProviderBackend {
	case "kubernetes":
		kubernetes.Configure(cfg.Namespace, cfg.Kubeconfig)
		return NewKubernetes(cfg.SandboxImage), nil
	case "fake":
		return NewFake(false), nil
	default:
		return nil, fmt.Errorf("provider: unsupported backend %q", cfg.ProviderBackend)
	}
}
