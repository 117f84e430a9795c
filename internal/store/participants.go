package store

import (
	"database/sql"
	"fmt"
)

// CreateParticipant inserts a new participant. Invariant: at most one
// participant per user id (enforced by the UNIQUE constraint on user_id).
func (s *Store) CreateParticipant(p *Participant) error {
	_, err := s.db.Exec(
		`INSERT INTO participants (id, user_id, host_login, host_display_name, host_email,
			host_numeric_id, role, host_access_token_enc, host_refresh_token_enc,
			host_token_expires_at, ws_auth_token_hash, ws_auth_token_issued_at,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.HostLogin, p.HostDisplayName, p.HostEmail,
		p.HostNumericID, p.Role, p.HostAccessTokenEnc, p.HostRefreshTokenEnc,
		p.HostTokenExpiresAt, p.WSAuthTokenHash, p.WSAuthTokenIssuedAt,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating participant: %w", err)
	}
	return nil
}

func scanParticipant(row interface {
	Scan(dest ...any) error
}) (*Participant, error) {
	p := &Participant{}
	err := row.Scan(
		&p.ID, &p.UserID, &p.HostLogin, &p.HostDisplayName, &p.HostEmail,
		&p.HostNumericID, &p.Role, &p.HostAccessTokenEnc, &p.HostRefreshTokenEnc,
		&p.HostTokenExpiresAt, &p.WSAuthTokenHash, &p.WSAuthTokenIssuedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

const participantColumns = `id, user_id, host_login, host_display_name, host_email,
	host_numeric_id, role, host_access_token_enc, host_refresh_token_enc,
	host_token_expires_at, ws_auth_token_hash, ws_auth_token_issued_at,
	created_at, updated_at`

// GetParticipantByUserID looks up a participant by external user id.
func (s *Store) GetParticipantByUserID(userID string) (*Participant, error) {
	row := s.db.QueryRow(`SELECT `+participantColumns+` FROM participants WHERE user_id = ?`, userID)
	p, err := scanParticipant(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting participant by user id: %w", err)
	}
	return p, nil
}

// GetParticipant looks up a participant by its internal id.
func (s *Store) GetParticipant(id string) (*Participant, error) {
	row := s.db.QueryRow(`SELECT `+participantColumns+` FROM participants WHERE id = ?`, id)
	p, err := scanParticipant(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting participant: %w", err)
	}
	return p, nil
}

// ListParticipants returns every participant in creation order.
func (s *Store) ListParticipants() ([]*Participant, error) {
	rows, err := s.db.Query(`SELECT ` + participantColumns + ` FROM participants ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	defer rows.Close()

	var out []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateHostTokens refreshes a participant's encrypted host access/refresh
// tokens and expiry after a host-side token refresh.
func (s *Store) UpdateHostTokens(participantID string, accessEnc, refreshEnc []byte, expiresAt, now int64) error {
	_, err := s.db.Exec(
		`UPDATE participants SET host_access_token_enc = ?, host_refresh_token_enc = ?,
			host_token_expires_at = ?, updated_at = ? WHERE id = ?`,
		accessEnc, refreshEnc, expiresAt, now, participantID,
	)
	if err != nil {
		return fmt.Errorf("updating host tokens: %w", err)
	}
	return nil
}

// SetWSAuthToken persists the SHA-256 hash of a freshly minted WebSocket
// auth token. The plaintext token is never stored; it exists only in the
// response that issues it.
func (s *Store) SetWSAuthToken(participantID, tokenHash string, issuedAt, now int64) error {
	_, err := s.db.Exec(
		`UPDATE participants SET ws_auth_token_hash = ?, ws_auth_token_issued_at = ?, updated_at = ? WHERE id = ?`,
		tokenHash, issuedAt, now, participantID,
	)
	if err != nil {
		return fmt.Errorf("setting ws auth token: %w", err)
	}
	return nil
}

// FindParticipantByWSTokenHash matches an inbound subscribe token's hash
// against the stored hash.
func (s *Store) FindParticipantByWSTokenHash(hash string) (*Participant, error) {
	row := s.db.QueryRow(`SELECT `+participantColumns+` FROM participants WHERE ws_auth_token_hash = ? AND ws_auth_token_hash != ''`, hash)
	p, err := scanParticipant(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finding participant by ws token hash: %w", err)
	}
	return p, nil
}
