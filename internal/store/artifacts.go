package store

import "fmt"

// CreateArtifact persists an append-only artifact record.
func (s *Store) CreateArtifact(a *Artifact) error {
	_, err := s.db.Exec(
		`INSERT INTO artifacts (id, type, url, metadata_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.URL, a.MetadataJSON, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating artifact: %w", err)
	}
	return nil
}

// ListArtifacts returns every artifact, newest first.
func (s *Store) ListArtifacts() ([]*Artifact, error) {
	rows, err := s.db.Query(`SELECT id, type, url, metadata_json, created_at FROM artifacts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		a := &Artifact{}
		if err := rows.Scan(&a.ID, &a.Type, &a.URL, &a.MetadataJSON, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
