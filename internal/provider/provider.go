// Package provider wires concrete compute backends to the lifecycle.Provider
// port (spec.md §6): the Kubernetes-backed provider in
// internal/provider/kubernetes, and an in-memory "fake" provider used by
// tests and local development.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/agentforge/coordinator/internal/lifecycle"
	"github.com/agentforge/coordinator/internal/provider/kubernetes"
)

// readyTimeout bounds how long CreateSandbox/RestoreFromSnapshot wait for the
// pod to reach Ready before giving up and reporting an error to the caller.
const readyTimeout = 2 * time.Minute

// Kubernetes implements lifecycle.Provider by running each sandbox as a
// single pod. It never supports snapshotting: a plain pod has no image
// layer to commit, so SupportsSnapshot always reports false and the
// lifecycle.Controller never calls RestoreFromSnapshot/TakeSnapshot on it.
type Kubernetes struct {
	image string
}

// NewKubernetes returns a Kubernetes-backed Provider. Configure the
// underlying client package (namespace, kubeconfig) via
// internal/provider/kubernetes.Configure before use.
func NewKubernetes(sandboxImage string) *Kubernetes {
	return &Kubernetes{image: sandboxImage}
}

// Name implements lifecycle.Provider.
func (k *Kubernetes) Name() string { return "kubernetes" }

// SupportsSnapshot implements lifecycle.Provider.
func (k *Kubernetes) SupportsSnapshot() bool { return false }

// CreateSandbox implements lifecycle.Provider by creating a sandbox pod and
// waiting for it to become Ready.
func (k *Kubernetes) CreateSandbox(ctx context.Context, req lifecycle.SpawnRequest) (string, error) {
	config := kubernetes.DefaultPodConfig(req.SessionID, req.ExpectedSandboxID, k.image, req.ControlPlaneURL, req.AuthToken, req.Model, req.ExtraEnv)
	pod := kubernetes.BuildPodSpec(config)

	created, err := kubernetes.CreatePod(ctx, pod)
	if err != nil {
		return "", fmt.Errorf("provider: creating sandbox pod: %w", err)
	}

	netpol := kubernetes.BuildSandboxNetworkPolicy(req.SessionID)
	if _, err := kubernetes.CreateNetworkPolicy(ctx, netpol); err != nil {
		_ = kubernetes.DeletePod(ctx, created.Name)
		return "", fmt.Errorf("provider: creating sandbox network policy: %w", err)
	}

	if err := kubernetes.WaitForPodReady(ctx, created.Name, readyTimeout); err != nil {
		_ = kubernetes.DeletePod(ctx, created.Name)
		_ = kubernetes.DeleteSandboxNetworkPolicy(ctx, req.SessionID)
		return "", fmt.Errorf("provider: waiting for sandbox pod ready: %w", err)
	}

	return created.Name, nil
}

// RestoreFromSnapshot implements lifecycle.Provider. It is never called,
// since SupportsSnapshot reports false, but is kept to satisfy the
// interface and to fail loudly if the contract is ever violated.
func (k *Kubernetes) RestoreFromSnapshot(ctx context.Context, snapshotImageID string, req lifecycle.SpawnRequest) (string, error) {
	return "", fmt.Errorf("provider: kubernetes provider does not support snapshots")
}

// TakeSnapshot implements lifecycle.Provider. See RestoreFromSnapshot.
func (k *Kubernetes) TakeSnapshot(ctx context.Context, providerObjectID string) (string, error) {
	return "", fmt.Errorf("provider: kubernetes provider does not support snapshots")
}

// DeleteSandbox tears down the pod and network policy for providerObjectID's
// session. Not part of lifecycle.Provider (the port has no teardown method
// today); called directly by the coordinator when a session ends.
func (k *Kubernetes) DeleteSandbox(ctx context.Context, sessionID, providerObjectID string) error {
	err := kubernetes.DeletePod(ctx, providerObjectID)
	_ = kubernetes.DeleteSandboxNetworkPolicy(ctx, sessionID)
	return err
}

var _ lifecycle.Provider = (*Kubernetes)(nil)
