package store

import (
	"database/sql"
	"fmt"
)

// RecordMapping records (socket id ↔ participant id, client id), used to
// reconstruct client identity after host hibernation.
func (s *Store) RecordMapping(m *WSClientMapping) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO ws_client_mapping (socket_id, participant_id, client_id, created_at) VALUES (?, ?, ?, ?)`,
		m.SocketID, m.ParticipantID, m.ClientID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording ws client mapping: %w", err)
	}
	return nil
}

// LookupMapping returns the mapping for a given socket id.
func (s *Store) LookupMapping(socketID string) (*WSClientMapping, error) {
	row := s.db.QueryRow(`SELECT socket_id, participant_id, client_id, created_at FROM ws_client_mapping WHERE socket_id = ?`, socketID)
	m := &WSClientMapping{}
	err := row.Scan(&m.SocketID, &m.ParticipantID, &m.ClientID, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up ws client mapping: %w", err)
	}
	return m, nil
}

// DeleteMapping removes a socket's mapping once the socket closes.
func (s *Store) DeleteMapping(socketID string) error {
	_, err := s.db.Exec(`DELETE FROM ws_client_mapping WHERE socket_id = ?`, socketID)
	if err != nil {
		return fmt.Errorf("deleting ws client mapping: %w", err)
	}
	return nil
}
