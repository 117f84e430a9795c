package store

import (
	"database/sql"
	"fmt"
)

// CreateSession inserts the session row. Called once on /internal/init.
func (s *Store) CreateSession(sess *Session) error {
	_, err := s.db.Exec(
		`INSERT INTO session (id, session_name, title, repo_owner, repo_name, repo_id,
			repo_default_branch, branch_name, base_sha, current_sha, model, status,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.SessionName, sess.Title, sess.RepoOwner, sess.RepoName, sess.RepoID,
		sess.RepoDefaultBranch, sess.BranchName, sess.BaseSHA, sess.CurrentSHA, sess.Model, sess.Status,
		sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession returns the (singular) session row, or ErrNotFound if the
// instance has not been initialized yet.
func (s *Store) GetSession() (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, session_name, title, repo_owner, repo_name, repo_id,
			repo_default_branch, branch_name, base_sha, current_sha, model, status,
			created_at, updated_at
		 FROM session LIMIT 1`,
	)
	sess := &Session{}
	err := row.Scan(
		&sess.ID, &sess.SessionName, &sess.Title, &sess.RepoOwner, &sess.RepoName, &sess.RepoID,
		&sess.RepoDefaultBranch, &sess.BranchName, &sess.BaseSHA, &sess.CurrentSHA, &sess.Model, &sess.Status,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// UpdateSessionSHA updates the session's current commit SHA, as driven by
// git_sync events.
func (s *Store) UpdateSessionSHA(sha string, now int64) error {
	_, err := s.db.Exec(`UPDATE session SET current_sha = ?, updated_at = ?`, sha, now)
	if err != nil {
		return fmt.Errorf("updating session sha: %w", err)
	}
	return nil
}

// UpdateSessionBranch updates the session's working branch name, set after
// PR creation.
func (s *Store) UpdateSessionBranch(branch string, now int64) error {
	_, err := s.db.Exec(`UPDATE session SET branch_name = ?, updated_at = ?`, branch, now)
	if err != nil {
		return fmt.Errorf("updating session branch: %w", err)
	}
	return nil
}

// SetSessionStatus transitions the Session entity's own status (not the
// sandbox's).
func (s *Store) SetSessionStatus(status SessionStatus, now int64) error {
	_, err := s.db.Exec(`UPDATE session SET status = ?, updated_at = ?`, status, now)
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	return nil
}
