package coordinator

import (
	"github.com/agentforge/coordinator/internal/lifecycle"
	"github.com/agentforge/coordinator/internal/queue"
	"github.com/agentforge/coordinator/internal/store"
)

// lifecycleStoreAdapter narrows *store.Store to lifecycle.SandboxStore,
// converting *store.Sandbox into the package-local lifecycle.SandboxState
// the controller reasons about so package lifecycle never imports store.
type lifecycleStoreAdapter struct {
	st *store.Store
}

func (a *lifecycleStoreAdapter) GetSandbox() (lifecycle.SandboxState, error) {
	sb, err := a.st.GetSandbox()
	if err != nil {
		return lifecycle.SandboxState{}, err
	}
	return lifecycle.SandboxState{
		ExternalSandboxID: sb.ExternalSandboxID,
		ProviderObjectID:  sb.ProviderObjectID,
		SnapshotImageID:   sb.SnapshotImageID,
		AuthToken:         sb.AuthToken,
		Status:            lifecycle.SandboxStatus(sb.Status),
		LastHeartbeat:     sb.LastHeartbeat,
		LastActivity:      sb.LastActivity,
		FailureCount:      sb.FailureCount,
		LastFailureTime:   sb.LastFailureTime,
		CreatedAt:         sb.CreatedAt,
	}, nil
}

func (a *lifecycleStoreAdapter) PersistPreSpawn(externalID, authToken, status string, now int64) error {
	return a.st.PersistPreSpawn(externalID, authToken, status, now)
}

func (a *lifecycleStoreAdapter) SetProviderObjectID(id string, now int64) error {
	return a.st.SetProviderObjectID(id, now)
}

func (a *lifecycleStoreAdapter) SetSandboxStatus(status string, now int64) error {
	return a.st.SetSandboxStatus(status, now)
}

func (a *lifecycleStoreAdapter) RecordSpawnFailure(errMsg string, now int64) error {
	return a.st.RecordSpawnFailure(errMsg, now)
}

func (a *lifecycleStoreAdapter) RecordSpawnFailureNoCounter(errMsg string, now int64) error {
	return a.st.RecordSpawnFailureNoCounter(errMsg, now)
}

func (a *lifecycleStoreAdapter) ResetFailureCounter() error {
	return a.st.ResetFailureCounter()
}

func (a *lifecycleStoreAdapter) SetSnapshotImageID(imageID string, now int64) error {
	return a.st.SetSnapshotImageID(imageID, now)
}

var _ lifecycle.SandboxStore = (*lifecycleStoreAdapter)(nil)

// queueStoreAdapter narrows *store.Store to queue.Store, converting
// *store.Message into the package-local queue.Message the driver dispatches
// with.
type queueStoreAdapter struct {
	st *store.Store
}

func (a *queueStoreAdapter) HasProcessingMessage() (bool, error) {
	return a.st.HasProcessingMessage()
}

func (a *queueStoreAdapter) OldestPending() (*queue.Message, error) {
	msg, err := a.st.OldestPending()
	if err == store.ErrNotFound {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &queue.Message{
		ID:              msg.ID,
		Content:         msg.Content,
		ModelOverride:   msg.ModelOverride,
		AuthorID:        msg.AuthorID,
		AttachmentsJSON: msg.AttachmentsJSON,
	}, nil
}

func (a *queueStoreAdapter) MarkProcessing(id string, now int64) error {
	return a.st.MarkProcessing(id, now)
}

func (a *queueStoreAdapter) StampActivity(now int64) error {
	return a.st.StampActivity(now)
}

var _ queue.Store = (*queueStoreAdapter)(nil)

// modelResolver implements queue.ModelResolver: message override beats the
// session's chosen model beats the deployment default (spec.md §9).
type modelResolver struct {
	store        *store.Store
	defaultModel string
}

func (r *modelResolver) ResolveModel(messageModel string) string {
	if messageModel != "" {
		return messageModel
	}
	if sess, err := r.store.GetSession(); err == nil && sess.Model != "" {
		return sess.Model
	}
	return r.defaultModel
}

var _ queue.ModelResolver = (*modelResolver)(nil)
