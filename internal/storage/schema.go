package storage

import (
	"fmt"
	"time"

	apperrors "github.com/clawd/pager-bridge/internal/errors"
)

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add migration logic.
const currentSchemaVersion = 1

// initSchema creates the required tables if they don't exist.
// Uses IF NOT EXISTS to make the operation idempotent.
func (s *Store) initSchema() error {
	// Schema version table tracks database migrations so future schema
	// changes can be applied incrementally.
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageOpenFailed, "create schema_version table", err)
	}

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageOpenFailed, "check schema version", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return apperrors.Wrap(apperrors.CodeStorageOpenFailed, "migrate to v1", err)
		}
	}

	return nil
}

// migrateToV1 creates the request_audit table.
func (s *Store) migrateToV1() error {
	const auditTable = `
		CREATE TABLE IF NOT EXISTS request_audit (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			source TEXT NOT NULL,
			kind TEXT NOT NULL,
			priority TEXT NOT NULL,
			text TEXT NOT NULL,
			risk TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			value TEXT NOT NULL,
			via TEXT NOT NULL,
			truncated INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			decided_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_request_audit_decided_at
			ON request_audit(decided_at);
	`

	if _, err := s.db.Exec(auditTable); err != nil {
		return fmt.Errorf("create request_audit table: %w", err)
	}

	return s.recordVersion(1)
}

// recordVersion marks a migration as applied.
func (s *Store) recordVersion(version int) error {
	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		version, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record schema version %d: %w", version, err)
	}
	return nil
}
