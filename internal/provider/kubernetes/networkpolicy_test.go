package kubernetes

import (
	"testing"
)

func TestBuildSandboxNetworkPolicy(t *testing.T) {
	defer ResetClient()

	np := BuildSandboxNetworkPolicy("sess-1")
	if np == nil {
		t.Fatal("expected non-nil NetworkPolicy")
	}

	if np.Name != "coordinator-egress-sess-1" {
		t.Errorf("expected name coordinator-egress-sess-1, got %s", np.Name)
	}

	if len(np.Spec.PolicyTypes) != 1 || np.Spec.PolicyTypes[0] != "Egress" {
		t.Error("expected Egress policy type")
	}

	// Should have 2 egress rules: DNS + general egress with exceptions
	if len(np.Spec.Egress) != 2 {
		t.Fatalf("expected 2 egress rules, got %d", len(np.Spec.Egress))
	}

	dnsRule := np.Spec.Egress[0]
	if len(dnsRule.Ports) != 2 {
		t.Errorf("expected 2 DNS ports, got %d", len(dnsRule.Ports))
	}

	broadRule := np.Spec.Egress[1]
	if broadRule.To[0].IPBlock.CIDR != "0.0.0.0/0" {
		t.Errorf("expected CIDR 0.0.0.0/0, got %s", broadRule.To[0].IPBlock.CIDR)
	}

	exceptSet := make(map[string]bool)
	for _, cidr := range broadRule.To[0].IPBlock.Except {
		exceptSet[cidr] = true
	}
	if !exceptSet[metadataEndpointCIDR] {
		t.Error("expected metadata endpoint CIDR to be excepted")
	}
	for _, cidr := range clusterInternalCIDRs {
		if !exceptSet[cidr] {
			t.Errorf("expected cluster-internal CIDR %s to be excepted", cidr)
		}
	}
}

func TestBuildSandboxNetworkPolicy_Labels(t *testing.T) {
	defer ResetClient()
	np := BuildSandboxNetworkPolicy("sess-4")
	if np == nil {
		t.Fatal("expected non-nil NetworkPolicy")
	}

	if np.Labels[SessionLabelKey] != "sess-4" {
		t.Errorf("expected session label sess-4, got %s", np.Labels[SessionLabelKey])
	}
	if np.Labels[NetworkPolicyLabelKey] != "true" {
		t.Error("expected egress-policy label")
	}

	if np.Spec.PodSelector.MatchLabels[SessionLabelKey] != "sess-4" {
		t.Error("expected pod selector to match session ID")
	}
}
