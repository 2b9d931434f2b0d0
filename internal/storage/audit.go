package storage

// audit.go contains Store methods for the request audit trail. Every
// request that reaches a terminal state produces one entry, whichever
// way it ended.

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/clawd/pager-bridge/internal/errors"
	"github.com/clawd/pager-bridge/internal/request"
)

// AuditEntry records how one request was decided.
type AuditEntry struct {
	// ID is the unique identifier for this audit entry.
	ID string

	// RequestID is the request's ID as the agent saw it.
	RequestID string

	// Source names the agent that submitted the request.
	Source string

	// Kind is the request kind (question, permission, open_prompt).
	Kind string

	// Priority is the request's priority tier.
	Priority string

	// Text is the prompt shown on the pager.
	Text string

	// Risk is the permission risk note, empty for other kinds.
	Risk string

	// Outcome is answered, expired or superseded.
	Outcome string

	// Value is the answer payload delivered to the agent.
	Value string

	// Via says how the answer was produced: button, voice, timeout or
	// preempt.
	Via string

	// Truncated is true when the voice capture hit the length cap.
	Truncated bool

	// CreatedAt is when the request was submitted.
	CreatedAt time.Time

	// DecidedAt is when the terminal state was reached.
	DecidedAt time.Time
}

// NewAuditEntry builds an entry from a terminal request.
func NewAuditEntry(req *request.Request) *AuditEntry {
	entry := &AuditEntry{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		Source:    req.Source,
		Kind:      string(req.Kind),
		Priority:  string(req.Priority),
		Text:      req.Text,
		Risk:      req.Risk,
		CreatedAt: req.CreatedAt,
		DecidedAt: req.DecidedAt,
	}
	if req.Answer != nil {
		entry.Outcome = string(req.Answer.Outcome)
		entry.Value = req.Answer.Value
		entry.Via = req.Answer.Via
		entry.Truncated = req.Answer.Truncated
	}
	return entry
}

// SaveAudit persists one audit entry.
func (s *Store) SaveAudit(entry *AuditEntry) error {
	if entry == nil {
		return apperrors.New(apperrors.CodeStorageSaveFailed, "audit entry cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: saving audit entry for %s (outcome=%s, via=%s)",
		entry.RequestID, entry.Outcome, entry.Via)

	const query = `
		INSERT INTO request_audit
			(id, request_id, source, kind, priority, text, risk, outcome, value, via, truncated, created_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	truncated := 0
	if entry.Truncated {
		truncated = 1
	}

	_, err := s.db.Exec(query,
		entry.ID,
		entry.RequestID,
		entry.Source,
		entry.Kind,
		entry.Priority,
		entry.Text,
		entry.Risk,
		entry.Outcome,
		entry.Value,
		entry.Via,
		truncated,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		entry.DecidedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "save audit entry", err)
	}

	return nil
}

// ListAudit returns audit entries newest first. Use limit <= 0 for all
// entries.
func (s *Store) ListAudit(limit int) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, request_id, source, kind, priority, text, risk, outcome, value, via, truncated, created_at, decided_at
		FROM request_audit
		ORDER BY decided_at DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanAuditRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}

	return entries, nil
}

// scanAuditRow scans one row into an AuditEntry.
func scanAuditRow(rows *sql.Rows) (*AuditEntry, error) {
	var (
		entry     AuditEntry
		truncated int
		createdAt string
		decidedAt string
	)

	err := rows.Scan(
		&entry.ID,
		&entry.RequestID,
		&entry.Source,
		&entry.Kind,
		&entry.Priority,
		&entry.Text,
		&entry.Risk,
		&entry.Outcome,
		&entry.Value,
		&entry.Via,
		&truncated,
		&createdAt,
		&decidedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Truncated = truncated != 0

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	entry.CreatedAt = t

	t, err = time.Parse(time.RFC3339Nano, decidedAt)
	if err != nil {
		return nil, fmt.Errorf("parse decided_at: %w", err)
	}
	entry.DecidedAt = t

	return &entry, nil
}
