package kubernetes

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// NetworkPolicyLabelKey associates a NetworkPolicy with the sandbox pod it guards.
const NetworkPolicyLabelKey = "coordinator.dev/egress-policy"

// metadataEndpointCIDR is the cloud-provider instance-metadata endpoint. A
// sandbox running arbitrary agent-generated code must never be able to read
// instance credentials from it.
const metadataEndpointCIDR = "169.254.169.254/32"

// clusterInternalCIDRs are blocked so a compromised sandbox can't reach the
// rest of the cluster (other services, the API server's ClusterIP range).
var clusterInternalCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

// BuildSandboxNetworkPolicy returns a fixed egress policy for a sandbox pod:
// DNS plus unrestricted general egress, except the cloud metadata endpoint
// and cluster-internal address ranges. Unlike an app-launcher's
// per-application allowlist/denylist, every sandbox gets the same policy.
func BuildSandboxNetworkPolicy(sessionID string) *networkingv1.NetworkPolicy {
	name := fmt.Sprintf("coordinator-egress-%s", sessionID)

	except := append([]string{metadataEndpointCIDR}, clusterInternalCIDRs...)

	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: GetNamespace(),
			Labels: map[string]string{
				SessionLabelKey:       sessionID,
				NetworkPolicyLabelKey: "true",
			},
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{
				MatchLabels: map[string]string{
					SessionLabelKey: sessionID,
				},
			},
			PolicyTypes: []networkingv1.PolicyType{
				networkingv1.PolicyTypeEgress,
			},
			Egress: []networkingv1.NetworkPolicyEgressRule{
				dnsEgressRule(),
				{
					To: []networkingv1.NetworkPolicyPeer{
						{
							IPBlock: &networkingv1.IPBlock{
								CIDR:   "0.0.0.0/0",
								Except: except,
							},
						},
					},
				},
			},
		},
	}
}

// dnsEgressRule creates an egress rule that allows DNS traffic.
func dnsEgressRule() networkingv1.NetworkPolicyEgressRule {
	udp := corev1.ProtocolUDP
	tcp := corev1.ProtocolTCP
	dnsPort := intstr.FromInt(53)

	return networkingv1.NetworkPolicyEgressRule{
		Ports: []networkingv1.NetworkPolicyPort{
			{Protocol: &udp, Port: &dnsPort},
			{Protocol: &tcp, Port: &dnsPort},
		},
	}
}

// CreateNetworkPolicy creates a NetworkPolicy in the cluster.
func CreateNetworkPolicy(ctx context.Context, np *networkingv1.NetworkPolicy) (*networkingv1.NetworkPolicy, error) {
	client, err := GetClient()
	if err != nil {
		return nil, err
	}
	return client.NetworkingV1().NetworkPolicies(GetNamespace()).Create(ctx, np, metav1.CreateOptions{})
}

// DeleteNetworkPolicy deletes a NetworkPolicy by name.
func DeleteNetworkPolicy(ctx context.Context, name string) error {
	client, err := GetClient()
	if err != nil {
		return err
	}
	return client.NetworkingV1().NetworkPolicies(GetNamespace()).Delete(ctx, name, metav1.DeleteOptions{})
}

// DeleteSandboxNetworkPolicy deletes the NetworkPolicy for a session.
// Any delete error, not-found included, is ignored; it always returns nil.
func DeleteSandboxNetworkPolicy(ctx context.Context, sessionID string) error {
	name := fmt.Sprintf("coordinator-egress-%s", sessionID)
	_ = DeleteNetworkPolicy(ctx, name)
	return nil
}
