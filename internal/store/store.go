// Package store implements the per-session durable store: one SQLite
// database per coordinator instance, holding the session, participants,
// messages, events, artifacts, sandbox, and ws_client_mapping tables. The
// store is strictly owned by a single instance; there are no cross-instance
// concurrent writers, so a single *sql.DB connection is sufficient.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the per-session relational store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path, applies the
// base schema, and runs the ordered list of additive migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	// The instance owns this store exclusively, but WAL still buys crash
	// safety and lets a read-only diagnostic tool tail the file.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running session store migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const baseSchema = `
CREATE TABLE IF NOT EXISTS session (
	id                   TEXT PRIMARY KEY,
	session_name         TEXT NOT NULL DEFAULT '',
	title                TEXT NOT NULL DEFAULT '',
	repo_owner           TEXT NOT NULL DEFAULT '',
	repo_name            TEXT NOT NULL DEFAULT '',
	repo_id              TEXT NOT NULL DEFAULT '',
	repo_default_branch  TEXT NOT NULL DEFAULT '',
	branch_name          TEXT NOT NULL DEFAULT '',
	base_sha             TEXT NOT NULL DEFAULT '',
	current_sha          TEXT NOT NULL DEFAULT '',
	model                TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'created',
	created_at           INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
	id                      TEXT PRIMARY KEY,
	user_id                 TEXT NOT NULL UNIQUE,
	host_login              TEXT NOT NULL DEFAULT '',
	host_display_name       TEXT NOT NULL DEFAULT '',
	host_email              TEXT NOT NULL DEFAULT '',
	host_numeric_id         INTEGER NOT NULL DEFAULT 0,
	role                    TEXT NOT NULL DEFAULT 'member',
	host_access_token_enc   BLOB,
	host_refresh_token_enc  BLOB,
	host_token_expires_at   INTEGER NOT NULL DEFAULT 0,
	ws_auth_token_hash      TEXT NOT NULL DEFAULT '',
	ws_auth_token_issued_at INTEGER NOT NULL DEFAULT 0,
	created_at              INTEGER NOT NULL,
	updated_at              INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id                     TEXT PRIMARY KEY,
	author_id              TEXT NOT NULL,
	content                TEXT NOT NULL,
	source                 TEXT NOT NULL,
	model_override         TEXT NOT NULL DEFAULT '',
	attachments_json       TEXT NOT NULL DEFAULT '',
	status                 TEXT NOT NULL DEFAULT 'pending',
	callback_context_json  TEXT NOT NULL DEFAULT '',
	error_message          TEXT NOT NULL DEFAULT '',
	created_at             INTEGER NOT NULL,
	started_at             INTEGER NOT NULL DEFAULT 0,
	completed_at           INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_status_created ON messages(status, created_at, id);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	data_json   TEXT NOT NULL DEFAULT '',
	message_id  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at, id);
CREATE INDEX IF NOT EXISTS idx_events_message ON events(message_id);

CREATE TABLE IF NOT EXISTS artifacts (
	id            TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	url           TEXT NOT NULL DEFAULT '',
	metadata_json TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sandbox (
	id                   TEXT PRIMARY KEY DEFAULT 'sandbox',
	external_sandbox_id  TEXT NOT NULL DEFAULT '',
	provider_object_id   TEXT NOT NULL DEFAULT '',
	snapshot_image_id    TEXT NOT NULL DEFAULT '',
	auth_token           TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'pending',
	git_sync_status      TEXT NOT NULL DEFAULT '',
	last_heartbeat       INTEGER NOT NULL DEFAULT 0,
	last_activity        INTEGER NOT NULL DEFAULT 0,
	last_spawn_error     TEXT NOT NULL DEFAULT '',
	last_spawn_error_at  INTEGER NOT NULL DEFAULT 0,
	failure_count        INTEGER NOT NULL DEFAULT 0,
	last_failure_time    INTEGER NOT NULL DEFAULT 0,
	created_at           INTEGER NOT NULL DEFAULT 0,
	updated_at           INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ws_client_mapping (
	socket_id      TEXT PRIMARY KEY,
	participant_id TEXT NOT NULL,
	client_id      TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);
`

// migrations is the ordered list of additive schema changes applied after
// the base schema. Each statement is independently tolerant of
// already-applied state: "already exists"/"duplicate column" errors are
// swallowed, any other error is fatal. New entries are appended, never
// reordered or removed.
var migrations = []string{
	// Reserved for future additive columns/tables. Kept as an explicit,
	// ordered slice (rather than folded into baseSchema) so new
	// deployments and upgraded ones converge on the same schema.
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(baseSchema); err != nil {
		return err
	}
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO sandbox (id, created_at, updated_at) VALUES ('sandbox', 0, 0)`); err != nil {
		return err
	}
	for i, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			if isAlreadyExists(err) {
				continue
			}
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "duplicate column")
}

// NewID returns a fresh random identifier suitable for any entity's
// primary key.
func NewID() string {
	return uuid.New().String()
}

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")
