// Package storage persists an audit trail of every resolved request.
//
// The bridge is in the approval path for commands an agent wants to run,
// so every terminal outcome (answered, expired, superseded) is written to
// a local SQLite database for later review. The store is write-mostly;
// reads happen from the status surface and ad hoc inspection.
package storage

import (
	"log"
	"sync"

	"database/sql"

	// Pure-Go SQLite driver, registered for database/sql. No CGO, so the
	// bridge cross-compiles for whatever box sits next to the pager.
	_ "modernc.org/sqlite"

	apperrors "github.com/clawd/pager-bridge/internal/errors"
)

// Store is the SQLite-backed audit log. It creates the database and
// schema on first use and supports concurrent access through internal
// locking.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the audit database at the given path.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(path string) (*Store, error) {
	log.Printf("storage: opening audit database at %s", path)

	// busy_timeout covers the case of a second bridge process or a
	// sqlite3 shell poking at the file while the bridge is writing.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open audit database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "ping audit database", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("storage: audit database ready (schema version %d)", currentSchemaVersion)
	return store, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	log.Printf("storage: closing audit database")
	return s.db.Close()
}
