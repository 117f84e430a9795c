package store

import "fmt"

const sandboxColumns = `external_sandbox_id, provider_object_id, snapshot_image_id, auth_token,
	status, git_sync_status, last_heartbeat, last_activity, last_spawn_error,
	last_spawn_error_at, failure_count, last_failure_time, created_at, updated_at`

// GetSandbox returns the session's single sandbox row. The row always
// exists (inserted at session-store open time) so this never returns
// ErrNotFound.
func (s *Store) GetSandbox() (*Sandbox, error) {
	row := s.db.QueryRow(`SELECT ` + sandboxColumns + ` FROM sandbox WHERE id = 'sandbox'`)
	sb := &Sandbox{}
	err := row.Scan(
		&sb.ExternalSandboxID, &sb.ProviderObjectID, &sb.SnapshotImageID, &sb.AuthToken,
		&sb.Status, &sb.GitSyncStatus, &sb.LastHeartbeat, &sb.LastActivity, &sb.LastSpawnError,
		&sb.LastSpawnErrorAt, &sb.FailureCount, &sb.LastFailureTime, &sb.CreatedAt, &sb.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("getting sandbox: %w", err)
	}
	return sb, nil
}

// PersistPreSpawn writes the external sandbox id, auth token, and status
// BEFORE the provider is called, so a concurrently-connecting sandbox finds
// its validation record (§4.4.3).
func (s *Store) PersistPreSpawn(externalID, authToken, status string, now int64) error {
	_, err := s.db.Exec(
		`UPDATE sandbox SET external_sandbox_id = ?, auth_token = ?, status = ?, created_at = ?, updated_at = ? WHERE id = 'sandbox'`,
		externalID, authToken, status, now, now,
	)
	if err != nil {
		return fmt.Errorf("persisting pre-spawn sandbox state: %w", err)
	}
	return nil
}

// SetProviderObjectID stores the provider-internal object id returned by a
// successful createSandbox/restoreFromSnapshot call.
func (s *Store) SetProviderObjectID(id string, now int64) error {
	_, err := s.db.Exec(`UPDATE sandbox SET provider_object_id = ?, updated_at = ? WHERE id = 'sandbox'`, id, now)
	if err != nil {
		return fmt.Errorf("setting provider object id: %w", err)
	}
	return nil
}

// SetSandboxStatus transitions the sandbox's status field.
func (s *Store) SetSandboxStatus(status string, now int64) error {
	_, err := s.db.Exec(`UPDATE sandbox SET status = ?, updated_at = ? WHERE id = 'sandbox'`, status, now)
	if err != nil {
		return fmt.Errorf("setting sandbox status: %w", err)
	}
	return nil
}

// RecordSpawnFailure increments the circuit-breaker failure counter and
// stamps last_failure_time, then moves status to failed.
func (s *Store) RecordSpawnFailure(errMsg string, now int64) error {
	_, err := s.db.Exec(
		`UPDATE sandbox SET failure_count = failure_count + 1, last_failure_time = ?,
			last_spawn_error = ?, last_spawn_error_at = ?, status = 'failed', updated_at = ? WHERE id = 'sandbox'`,
		now, errMsg, now, now,
	)
	if err != nil {
		return fmt.Errorf("recording spawn failure: %w", err)
	}
	return nil
}

// RecordSpawnFailureNoCounter records a transient failure: sandbox moves to
// failed but the circuit-breaker counter is left unchanged.
func (s *Store) RecordSpawnFailureNoCounter(errMsg string, now int64) error {
	_, err := s.db.Exec(
		`UPDATE sandbox SET last_spawn_error = ?, last_spawn_error_at = ?, status = 'failed', updated_at = ? WHERE id = 'sandbox'`,
		errMsg, now, now,
	)
	if err != nil {
		return fmt.Errorf("recording transient spawn failure: %w", err)
	}
	return nil
}

// ResetFailureCounter resets the circuit-breaker counter after the cooldown
// window elapses (§4.4.1).
func (s *Store) ResetFailureCounter() error {
	_, err := s.db.Exec(`UPDATE sandbox SET failure_count = 0, last_failure_time = 0 WHERE id = 'sandbox'`)
	if err != nil {
		return fmt.Errorf("resetting failure counter: %w", err)
	}
	return nil
}

// SetSnapshotImageID persists a successful takeSnapshot result.
func (s *Store) SetSnapshotImageID(imageID string, now int64) error {
	_, err := s.db.Exec(`UPDATE sandbox SET snapshot_image_id = ?, updated_at = ? WHERE id = 'sandbox'`, imageID, now)
	if err != nil {
		return fmt.Errorf("setting snapshot image id: %w", err)
	}
	return nil
}

// StampActivity updates last_activity, used on dispatch and on event
// receipt.
func (s *Store) StampActivity(now int64) error {
	_, err := s.db.Exec(`UPDATE sandbox SET last_activity = ?, updated_at = ? WHERE id = 'sandbox'`, now, now)
	if err != nil {
		return fmt.Errorf("stamping activity: %w", err)
	}
	return nil
}

// StampHeartbeat updates last_heartbeat, driven by inbound heartbeat
// events.
func (s *Store) StampHeartbeat(now int64) error {
	_, err := s.db.Exec(`UPDATE sandbox SET last_heartbeat = ?, updated_at = ? WHERE id = 'sandbox'`, now, now)
	if err != nil {
		return fmt.Errorf("stamping heartbeat: %w", err)
	}
	return nil
}

// SetGitSyncStatus updates the sandbox's git-sync status field, which is
// independent of the sandbox's lifecycle status.
func (s *Store) SetGitSyncStatus(status string, now int64) error {
	_, err := s.db.Exec(`UPDATE sandbox SET git_sync_status = ?, updated_at = ? WHERE id = 'sandbox'`, status, now)
	if err != nil {
		return fmt.Errorf("setting git sync status: %w", err)
	}
	return nil
}
