// Package kubernetes implements lifecycle.Provider (spec.md §6 Provider
// port) by running each sandbox as a single Kubernetes pod.
package kubernetes

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

var (
	clientOnce sync.Once
	client     *kubernetes.Clientset
	clientErr  error
	namespace  string

	configuredNamespace  string
	configuredKubeconfig string
)

// Configure sets the namespace and kubeconfig path to use. It must be
// called once at startup before any other function in this package.
func Configure(ns, kubeconfig string) {
	configuredNamespace = ns
	configuredKubeconfig = kubeconfig
}

// GetNamespace returns the namespace sandbox pods are created in.
// Priority: configured value > COORDINATOR_NAMESPACE env var > in-cluster
// namespace > "default".
func GetNamespace() string {
	if namespace != "" {
		return namespace
	}
	if configuredNamespace != "" {
		namespace = configuredNamespace
		return namespace
	}
	if ns := os.Getenv("COORDINATOR_NAMESPACE"); ns != "" {
		namespace = ns
		return namespace
	}
	if data, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace"); err == nil {
		namespace = string(data)
		return namespace
	}
	namespace = "default"
	return namespace
}

// GetClient returns a Kubernetes clientset, initializing it on first use.
// It supports both in-cluster config and a kubeconfig file.
func GetClient() (*kubernetes.Clientset, error) {
	clientOnce.Do(func() {
		config, err := rest.InClusterConfig()
		if err != nil {
			config, err = buildConfigFromKubeconfig()
			if err != nil {
				clientErr = fmt.Errorf("failed to create kubernetes config: %w", err)
				return
			}
		}

		client, clientErr = kubernetes.NewForConfig(config)
		if clientErr != nil {
			clientErr = fmt.Errorf("failed to create kubernetes client: %w", clientErr)
		}
	})

	return client, clientErr
}

func buildConfigFromKubeconfig() (*rest.Config, error) {
	kubeconfigPath := configuredKubeconfig
	if kubeconfigPath == "" {
		kubeconfigPath = os.Getenv("KUBECONFIG")
	}
	if kubeconfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		kubeconfigPath = filepath.Join(homeDir, ".kube", "config")
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build config from kubeconfig at %s: %w", kubeconfigPath, err)
	}
	return config, nil
}

// ResetClient resets the client singleton. Used by tests.
func ResetClient() {
	clientOnce = sync.Once{}
	client = nil
	clientErr = nil
	namespace = ""
	configuredNamespace = ""
	configuredKubeconfig = ""
}
