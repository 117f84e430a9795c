package kubernetes

import (
	"context"
	"fmt"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	// SessionLabelKey identifies which session a sandbox pod belongs to.
	SessionLabelKey = "coordinator.dev/session-id"
	// SandboxLabelKey identifies the external sandbox id, so a pod created
	// for one connection attempt can be distinguished from its successor.
	SandboxLabelKey = "coordinator.dev/sandbox-id"
	// ComponentLabelKey marks a pod as a sandbox workload for ListSandboxPods.
	ComponentLabelKey = "app.kubernetes.io/component"
	componentValue    = "sandbox"
)

// PodConfig is the configuration for a sandbox pod.
type PodConfig struct {
	SessionID       string
	SandboxID       string
	ContainerImage  string
	ControlPlaneURL string
	AuthToken       string
	Model           string
	CPULimit        string
	MemoryLimit     string
	CPURequest      string
	MemoryRequest   string
	// ExtraEnv holds the repo's decrypted secrets (internal/reposecrets),
	// already validated against the reserved operational variable names.
	ExtraEnv map[string]string
}

// DefaultPodConfig returns a PodConfig with sensible resource defaults.
func DefaultPodConfig(sessionID, sandboxID, containerImage, controlPlaneURL, authToken, model string, extraEnv map[string]string) *PodConfig {
	return &PodConfig{
		SessionID:       sessionID,
		SandboxID:       sandboxID,
		ContainerImage:  containerImage,
		ControlPlaneURL: controlPlaneURL,
		AuthToken:       authToken,
		Model:           model,
		CPULimit:        "2",
		MemoryLimit:     "4Gi",
		CPURequest:      "500m",
		MemoryRequest:   "1Gi",
		ExtraEnv:        extraEnv,
	}
}

// BuildPodSpec builds the single-container sandbox pod. The container is
// expected to dial ControlPlaneURL's sandbox WebSocket endpoint
// (`?type=sandbox&sandboxId=...`) using AuthToken as its bearer credential.
func BuildPodSpec(config *PodConfig) *corev1.Pod {
	podName := fmt.Sprintf("coordinator-sandbox-%s", config.SessionID)

	env := []corev1.EnvVar{
		{Name: "SESSION_ID", Value: config.SessionID},
		{Name: "SANDBOX_ID", Value: config.SandboxID},
		{Name: "CONTROL_PLANE_URL", Value: config.ControlPlaneURL},
		{Name: "SANDBOX_AUTH_TOKEN", Value: config.AuthToken},
		{Name: "MODEL", Value: config.Model},
	}

	// Sorted for a deterministic pod spec across repeated spawns of the same
	// session (makes diffing and testing the generated spec practical).
	extraKeys := make([]string, 0, len(config.ExtraEnv))
	for k := range config.ExtraEnv {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		env = append(env, corev1.EnvVar{Name: k, Value: config.ExtraEnv[k]})
	}

	cpuLimit := resource.MustParse(config.CPULimit)
	memoryLimit := resource.MustParse(config.MemoryLimit)
	cpuRequest := resource.MustParse(config.CPURequest)
	memoryRequest := resource.MustParse(config.MemoryRequest)

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: GetNamespace(),
			Labels: map[string]string{
				SessionLabelKey:   config.SessionID,
				SandboxLabelKey:   config.SandboxID,
				ComponentLabelKey: componentValue,
			},
			Annotations: map[string]string{
				"coordinator.dev/created-at": time.Now().UTC().Format(time.RFC3339),
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			SecurityContext: &corev1.PodSecurityContext{
				RunAsNonRoot: boolPtr(true),
				RunAsUser:    int64Ptr(1000),
				RunAsGroup:   int64Ptr(1000),
				FSGroup:      int64Ptr(1000),
			},
			Containers: []corev1.Container{
				{
					Name:  "sandbox",
					Image: config.ContainerImage,
					Env:   env,
					Resources: corev1.ResourceRequirements{
						Limits: corev1.ResourceList{
							corev1.ResourceCPU:    cpuLimit,
							corev1.ResourceMemory: memoryLimit,
						},
						Requests: corev1.ResourceList{
							corev1.ResourceCPU:    cpuRequest,
							corev1.ResourceMemory: memoryRequest,
						},
					},
					SecurityContext: &corev1.SecurityContext{
						AllowPrivilegeEscalation: boolPtr(false),
						ReadOnlyRootFilesystem:   boolPtr(false),
						Capabilities: &corev1.Capabilities{
							Drop: []corev1.Capability{"ALL"},
						},
					},
				},
			},
		},
	}
}

// CreatePod creates a new pod in the cluster.
func CreatePod(ctx context.Context, pod *corev1.Pod) (*corev1.Pod, error) {
	client, err := GetClient()
	if err != nil {
		return nil, err
	}
	return client.CoreV1().Pods(GetNamespace()).Create(ctx, pod, metav1.CreateOptions{})
}

// DeletePod deletes a pod by name.
func DeletePod(ctx context.Context, podName string) error {
	client, err := GetClient()
	if err != nil {
		return err
	}
	return client.CoreV1().Pods(GetNamespace()).Delete(ctx, podName, metav1.DeleteOptions{})
}

// GetPod retrieves a pod by name.
func GetPod(ctx context.Context, podName string) (*corev1.Pod, error) {
	client, err := GetClient()
	if err != nil {
		return nil, err
	}
	return client.CoreV1().Pods(GetNamespace()).Get(ctx, podName, metav1.GetOptions{})
}

// WaitForPodReady blocks until podName reports Ready or timeout elapses.
func WaitForPodReady(ctx context.Context, podName string, timeout time.Duration) error {
	client, err := GetClient()
	if err != nil {
		return err
	}

	return wait.PollUntilContextTimeout(ctx, 2*time.Second, timeout, true, func(ctx context.Context) (bool, error) {
		pod, err := client.CoreV1().Pods(GetNamespace()).Get(ctx, podName, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		for _, condition := range pod.Status.Conditions {
			if condition.Type == corev1.PodReady && condition.Status == corev1.ConditionTrue {
				return true, nil
			}
		}
		if pod.Status.Phase == corev1.PodFailed || pod.Status.Phase == corev1.PodSucceeded {
			return false, fmt.Errorf("pod %s is in terminal state: %s", podName, pod.Status.Phase)
		}
		return false, nil
	})
}

// GetPodIP returns the IP address of a pod.
func GetPodIP(ctx context.Context, podName string) (string, error) {
	pod, err := GetPod(ctx, podName)
	if err != nil {
		return "", err
	}
	if pod.Status.PodIP == "" {
		return "", fmt.Errorf("pod %s has no IP address yet", podName)
	}
	return pod.Status.PodIP, nil
}

// ListSandboxPods lists every pod this package manages across sessions.
func ListSandboxPods(ctx context.Context) (*corev1.PodList, error) {
	client, err := GetClient()
	if err != nil {
		return nil, err
	}
	return client.CoreV1().Pods(GetNamespace()).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", ComponentLabelKey, componentValue),
	})
}

func boolPtr(b bool) *bool    { return &b }
func int64Ptr(i int64) *int64 { return &i }
