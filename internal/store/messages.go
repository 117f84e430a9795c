package store

import (
	"database/sql"
	"fmt"
)

const messageColumns = `id, author_id, content, source, model_override, attachments_json,
	status, callback_context_json, error_message, created_at, started_at, completed_at`

func scanMessage(row interface {
	Scan(dest ...any) error
}) (*Message, error) {
	m := &Message{}
	err := row.Scan(
		&m.ID, &m.AuthorID, &m.Content, &m.Source, &m.ModelOverride, &m.AttachmentsJSON,
		&m.Status, &m.CallbackContextJSON, &m.ErrorMessage, &m.CreatedAt, &m.StartedAt, &m.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// EnqueueMessage performs the atomic insert of a pending prompt and returns
// the queue position (count of pending+processing messages, including the
// one just inserted).
func (s *Store) EnqueueMessage(m *Message) (position int, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("enqueueing message: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO messages (id, author_id, content, source, model_override, attachments_json,
			status, callback_context_json, error_message, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		m.ID, m.AuthorID, m.Content, m.Source, m.ModelOverride, m.AttachmentsJSON,
		MessagePending, m.CallbackContextJSON, m.ErrorMessage, m.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueueing message: %w", err)
	}

	row := tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE status IN (?, ?)`, MessagePending, MessageProcessing)
	if err := row.Scan(&position); err != nil {
		return 0, fmt.Errorf("counting queue position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("enqueueing message: %w", err)
	}
	return position, nil
}

// HasProcessingMessage reports whether any message currently has
// status=processing — the single-in-flight check (§4.3 step 1).
func (s *Store) HasProcessingMessage() (bool, error) {
	var count int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE status = ?`, MessageProcessing)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("checking processing message: %w", err)
	}
	return count > 0, nil
}

// OldestPending returns the oldest pending message (tie-break: creation
// timestamp then id), or ErrNotFound if the queue is empty.
func (s *Store) OldestPending() (*Message, error) {
	row := s.db.QueryRow(
		`SELECT ` + messageColumns + ` FROM messages WHERE status = '` + string(MessagePending) + `'
		 ORDER BY created_at ASC, id ASC LIMIT 1`,
	)
	m, err := scanMessage(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting oldest pending message: %w", err)
	}
	return m, nil
}

// CurrentlyProcessing returns the single processing message, if any. Used
// only as the attribution fallback when a completion event omits its
// message id.
func (s *Store) CurrentlyProcessing() (*Message, error) {
	row := s.db.QueryRow(`SELECT ` + messageColumns + ` FROM messages WHERE status = '` + string(MessageProcessing) + `' LIMIT 1`)
	m, err := scanMessage(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting currently processing message: %w", err)
	}
	return m, nil
}

// MarkProcessing transitions a pending message to processing and stamps
// started_at.
func (s *Store) MarkProcessing(id string, now int64) error {
	res, err := s.db.Exec(
		`UPDATE messages SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		MessageProcessing, now, id, MessagePending,
	)
	if err != nil {
		return fmt.Errorf("marking message processing: %w", err)
	}
	return mustAffectOne(res, "mark message processing")
}

// Resolve transitions a processing message to completed or failed.
func (s *Store) Resolve(id string, success bool, errMsg string, now int64) error {
	status := MessageCompleted
	if !success {
		status = MessageFailed
	}
	res, err := s.db.Exec(
		`UPDATE messages SET status = ?, error_message = ?, completed_at = ? WHERE id = ? AND status = ?`,
		status, errMsg, now, id, MessageProcessing,
	)
	if err != nil {
		return fmt.Errorf("resolving message: %w", err)
	}
	return mustAffectOne(res, "resolve message")
}

// GetMessage returns a single message by id.
func (s *Store) GetMessage(id string) (*Message, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting message: %w", err)
	}
	return m, nil
}

// ListMessages returns a cursor-paginated page of messages, optionally
// filtered by status, ordered newest-first, capped at limit (≤100 per
// spec.md §6).
func (s *Store) ListMessages(cursor int64, limit int, status MessageStatus) ([]*Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE created_at < ?`
	args := []any{cursor}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func mustAffectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: no matching row (stale state transition)", op)
	}
	return nil
}
