package store

import (
	"database/sql"
	"fmt"
)

const eventColumns = `id, type, data_json, message_id, created_at`

func scanEvent(row interface {
	Scan(dest ...any) error
}) (*Event, error) {
	e := &Event{}
	err := row.Scan(&e.ID, &e.Type, &e.DataJSON, &e.MessageID, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// AppendEvent persists an append-only sandbox event.
func (s *Store) AppendEvent(e *Event) error {
	_, err := s.db.Exec(
		`INSERT INTO events (id, type, data_json, message_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.DataJSON, e.MessageID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// ListEvents returns a cursor-paginated page of events (newest first),
// optionally filtered by type and/or associated message id, capped at
// limit (≤200 per spec.md §6). The returned cursor is the created_at of
// the last item in the page.
func (s *Store) ListEvents(cursor int64, limit int, eventType EventType, messageID string) ([]*Event, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE created_at < ?`
	args := []any{cursor}
	if eventType != "" {
		query += ` AND type = ?`
		args = append(args, eventType)
	}
	if messageID != "" {
		query += ` AND message_id = ?`
		args = append(args, messageID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	nextCursor := cursor
	if len(out) > 0 {
		nextCursor = out[len(out)-1].CreatedAt
	}
	return out, nextCursor, nil
}

// RecentHistory returns up to msgLimit messages and evtLimit events for
// the initial subscribe replay, both newest-first; callers interleave them
// by created_at.
func (s *Store) RecentHistory(msgLimit, evtLimit int) ([]*Message, []*Event, error) {
	msgs, err := s.ListMessages(maxCursor, msgLimit, "")
	if err != nil {
		return nil, nil, err
	}
	evts, _, err := s.ListEvents(maxCursor, evtLimit, "", "")
	if err != nil {
		return nil, nil, err
	}
	return msgs, evts, nil
}

// maxCursor is used as the "no cursor yet" sentinel for the first page of
// a newest-first, strictly-less-than cursor scan.
const maxCursor = int64(1<<63 - 1)
