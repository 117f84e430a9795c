// Package reposecrets implements the repository secrets store (spec.md
// §4.7): an envelope-encrypted, per-repository key/value store shared as a
// process-wide SQL database with the session-index store. Writes are
// validated against the keyspace and size rules, encrypted with
// internal/crypto.Sealer, and batched as upserts
// (INSERT ... ON CONFLICT (repo_id, key) DO UPDATE). Reads either list key
// metadata or decrypt every value for a repo, the latter used when
// materializing secrets into a sandbox session.
package reposecrets

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"

	"github.com/agentforge/coordinator/internal/crypto"
)

// ctx returns a background context for bun queries issued outside a
// caller-supplied context (mirrors the pattern used elsewhere in this repo
// for process-wide stores with no per-request deadline of their own).
func ctx() context.Context { return context.Background() }

// DB wraps the bun connection to the process-wide repo_secrets table.
type DB struct {
	bun    *bun.DB
	dbType string
	sealer *crypto.Sealer
}

// DBType returns the database type ("sqlite" or "postgres").
func (db *DB) DBType() string {
	return db.dbType
}

// Open opens a SQLite database at the given path, encrypting values with
// sealer. This is a convenience wrapper around OpenDB.
func Open(dbPath string, sealer *crypto.Sealer) (*DB, error) {
	return OpenDB("sqlite", dbPath, sealer)
}

// OpenDB opens a database connection for the given type and DSN, runs any
// pending migrations, and returns the DB handle. sealer encrypts and
// decrypts every value stored through it.
func OpenDB(dbType, dsn string, sealer *crypto.Sealer) (*DB, error) {
	var driverName string
	switch dbType {
	case "sqlite":
		driverName = "sqlite"
	case "postgres":
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	// For SQLite in-memory databases, use shared cache so that the migration
	// connection (opened separately by golang-migrate) sees the same database.
	migrateDSN := dsn
	if dbType == "sqlite" && dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
		migrateDSN = dsn
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbType == "sqlite" {
		// busy_timeout waits up to 5 seconds for locks to clear
		if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
		}

		// WAL mode allows concurrent reads while writing
		if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}

		// Keep at least one connection open to prevent in-memory databases
		// from being destroyed when all connections close.
		conn.SetMaxIdleConns(1)
	}

	if err := runMigrations(dbType, migrateDSN); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	var bunDB *bun.DB
	switch dbType {
	case "sqlite":
		bunDB = bun.NewDB(conn, sqlitedialect.New())
	case "postgres":
		bunDB = bun.NewDB(conn, pgdialect.New())
	}

	return &DB{bun: bunDB, dbType: dbType, sealer: sealer}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.bun.Close()
}

// Ping verifies the database connection is alive.
func (db *DB) Ping() error {
	return db.bun.PingContext(ctx())
}

// Upsert validates and envelope-encrypts each key/value pair, then writes
// them as a single batched upsert. The full set of keys for repoID must not
// exceed MaxKeysPerRepo once merged with what's already stored, and the
// aggregate plaintext size must not exceed MaxAggregateBytes.
func (db *DB) Upsert(repoID, repoOwner, repoName string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	normalized := make(map[string]string, len(values))
	for key, value := range values {
		normKey, err := normalizeKey(key)
		if err != nil {
			return err
		}
		if err := validateValue(normKey, value); err != nil {
			return err
		}
		normalized[normKey] = value
	}

	existing, err := db.DecryptAll(repoID)
	if err != nil {
		return fmt.Errorf("reposecrets: checking existing keyspace for repo %q: %w", repoID, err)
	}

	newKeyCount := 0
	aggregate := 0
	for key, value := range existing {
		if _, overwriting := normalized[key]; !overwriting {
			aggregate += len(value)
		}
	}
	for key, value := range normalized {
		if _, present := existing[key]; !present {
			newKeyCount++
		}
		aggregate += len(value)
	}

	if len(existing)+newKeyCount > MaxKeysPerRepo {
		return fmt.Errorf("reposecrets: repo %q would exceed the %d-key limit", repoID, MaxKeysPerRepo)
	}
	if aggregate > MaxAggregateBytes {
		return fmt.Errorf("reposecrets: repo %q writes would exceed the %d-byte aggregate limit", repoID, MaxAggregateBytes)
	}

	rows := make([]*repoSecret, 0, len(normalized))
	keys := make([]string, 0, len(normalized))
	for key := range normalized {
		keys = append(keys, key)
	}
	sort.Strings(keys) // deterministic statement order, easier to reason about in logs

	for _, key := range keys {
		encrypted, err := db.sealer.EncryptString(normalized[key])
		if err != nil {
			return fmt.Errorf("reposecrets: encrypting key %q: %w", key, err)
		}
		rows = append(rows, &repoSecret{
			RepoID:         repoID,
			RepoOwner:      repoOwner,
			RepoName:       repoName,
			Key:            key,
			EncryptedValue: []byte(encrypted),
		})
	}

	_, err = db.bun.NewInsert().
		Model(&rows).
		On("CONFLICT (repo_id, key) DO UPDATE").
		Set("repo_owner = EXCLUDED.repo_owner").
		Set("repo_name = EXCLUDED.repo_name").
		Set("encrypted_value = EXCLUDED.encrypted_value").
		Set("updated_at = CURRENT_TIMESTAMP").
		Exec(ctx())
	if err != nil {
		return fmt.Errorf("reposecrets: upserting secrets for repo %q: %w", repoID, err)
	}

	return nil
}

// ListKeys returns metadata for every key stored under repoID, without
// decrypting any value.
func (db *DB) ListKeys(repoID string) ([]KeyMeta, error) {
	var rows []repoSecret
	err := db.bun.NewSelect().
		Model(&rows).
		Column("key", "created_at", "updated_at").
		Where("repo_id = ?", repoID).
		OrderExpr("key").
		Scan(ctx())
	if err != nil {
		return nil, fmt.Errorf("reposecrets: listing keys for repo %q: %w", repoID, err)
	}

	metas := make([]KeyMeta, 0, len(rows))
	for _, row := range rows {
		metas = append(metas, KeyMeta{Key: row.Key, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt})
	}
	return metas, nil
}

// DecryptAll decrypts every value stored under repoID, for materializing
// secrets into a sandbox session. A decryption failure is terminal and
// names the offending key rather than silently skipping it.
func (db *DB) DecryptAll(repoID string) (map[string]string, error) {
	var rows []repoSecret
	err := db.bun.NewSelect().
		Model(&rows).
		Where("repo_id = ?", repoID).
		Scan(ctx())
	if err != nil {
		return nil, fmt.Errorf("reposecrets: loading secrets for repo %q: %w", repoID, err)
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		plaintext, err := db.sealer.DecryptString(string(row.EncryptedValue))
		if err != nil {
			return nil, fmt.Errorf("reposecrets: decrypting key %q for repo %q: %w", row.Key, repoID, err)
		}
		values[row.Key] = plaintext
	}
	return values, nil
}

// Delete removes a single key for repoID. Deleting a key that does not
// exist is not an error.
func (db *DB) Delete(repoID, key string) error {
	normKey, err := normalizeKey(key)
	if err != nil {
		return err
	}

	_, err = db.bun.NewDelete().
		Model((*repoSecret)(nil)).
		Where("repo_id = ? AND key = ?", repoID, normKey).
		Exec(ctx())
	if err != nil {
		return fmt.Errorf("reposecrets: deleting key %q for repo %q: %w", key, repoID, err)
	}
	return nil
}
