// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Logger appends hash-chained events to an indexed postgres table.
//
// The chain has a single ordering requirement: each append must read the
// current tail hash and persist the new record with that tail. The logger
// serializes this read-then-append sequence with a mutex, so the chain
// cannot fork under concurrent writers within one logger instance.
type Logger struct {
	db *sql.DB

	mu       sync.Mutex
	lastHash string
}

// NewLogger creates a Logger, ensures the schema exists, and loads the tail
// hash of any existing history.
func NewLogger(db *sql.DB) (*Logger, error) {
	if db == nil {
		return nil, fmt.Errorf("audit logger requires a database")
	}

	if err := createAuditSchema(db); err != nil {
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	l := &Logger{db: db}

	var tail string
	err := db.QueryRow(`SELECT integrity_hash FROM audit_events ORDER BY seq DESC LIMIT 1`).Scan(&tail)
	switch {
	case err == nil:
		l.lastHash = tail
	case errors.Is(err, sql.ErrNoRows):
		// Fresh history, chain starts empty.
	default:
		return nil, fmt.Errorf("failed to load chain tail: %w", err)
	}

	return l, nil
}

// DB returns the underlying database handle, for health checks.
func (l *Logger) DB() *sql.DB {
	return l.db
}

// LogEvent computes the integrity and chain hashes for the entry, links it
// to the current tail, and persists it. Exactly one event per state-changing
// operation across the subsystem.
func (l *Logger) LogEvent(ctx context.Context, entry Entry) (*Event, error) {
	if entry.EventType == "" {
		return nil, ErrMissingEventType
	}
	if entry.UserID == "" {
		return nil, ErrMissingActor
	}

	now := truncateForStorage(time.Now())
	event := &Event{
		ID:         uuid.New().String(),
		EventType:  entry.EventType,
		ActionID:   entry.ActionID,
		ApprovalID: entry.ApprovalID,
		UserID:     entry.UserID,
		Timestamp:  now,
		Details:    entry.Details,
		CreatedAt:  now,
	}

	detailsJSON, err := json.Marshal(event.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event details: %w", err)
	}

	// The read-tail-then-append sequence must be atomic per logger, or the
	// chain forks under concurrent writers.
	l.mu.Lock()
	defer l.mu.Unlock()

	event.PreviousHash = l.lastHash

	event.IntegrityHash, err = ComputeIntegrityHash(event)
	if err != nil {
		return nil, err
	}
	event.ChainHash = ComputeChainHash(event.PreviousHash, event.IntegrityHash)

	err = l.db.QueryRowContext(ctx, `
		INSERT INTO audit_events (
			id, event_type, action_id, approval_id, user_id,
			timestamp, details, created_at,
			integrity_hash, previous_hash, chain_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq
	`,
		event.ID, string(event.EventType), event.ActionID, event.ApprovalID, event.UserID,
		event.Timestamp, detailsJSON, event.CreatedAt,
		event.IntegrityHash, event.PreviousHash, event.ChainHash,
	).Scan(&event.Seq)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit event: %w", err)
	}

	l.lastHash = event.IntegrityHash
	return event, nil
}

// ModifyEvent always fails: audit records are immutable by contract.
func (l *Logger) ModifyEvent(ctx context.Context, eventID string, _ map[string]interface{}) error {
	log.Printf("[AUDIT] rejected modification attempt on event %s", eventID)
	return ErrImmutableEvent
}

// GetEvent fetches a single event by id.
func (l *Logger) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	row := l.db.QueryRowContext(ctx, selectEventColumns+` FROM audit_events WHERE id = $1`, eventID)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	return event, err
}

// VerifyIntegrity recomputes the integrity hash for a stored event and
// compares it with the persisted value.
func (l *Logger) VerifyIntegrity(ctx context.Context, eventID string) (bool, error) {
	event, err := l.GetEvent(ctx, eventID)
	if err != nil {
		return false, err
	}

	computed, err := ComputeIntegrityHash(event)
	if err != nil {
		return false, err
	}
	return computed == event.IntegrityHash, nil
}

// VerifyChainIntegrity walks the full ordered history and confirms every
// link: previous_hash equals the predecessor's integrity_hash, the
// integrity hash matches a recomputation, and the chain hash matches its
// expected value. Any break signals tampering; nothing is auto-repaired.
func (l *Logger) VerifyChainIntegrity(ctx context.Context) (*ChainReport, error) {
	rows, err := l.db.QueryContext(ctx, selectEventColumns+` FROM audit_events ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	report := &ChainReport{Intact: true}
	prevHash := ""

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		report.Events++

		if event.PreviousHash != prevHash {
			return broken(report, event, "previous hash does not match predecessor"), nil
		}

		computed, err := ComputeIntegrityHash(event)
		if err != nil {
			return nil, err
		}
		if computed != event.IntegrityHash {
			return broken(report, event, "integrity hash mismatch"), nil
		}

		if ComputeChainHash(event.PreviousHash, event.IntegrityHash) != event.ChainHash {
			return broken(report, event, "chain hash mismatch"), nil
		}

		prevHash = event.IntegrityHash
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return report, nil
}

// Query returns events matching the filter, ordered oldest first.
func (l *Logger) Query(ctx context.Context, filter Filter) ([]*Event, error) {
	query := selectEventColumns + ` FROM audit_events WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, filter.UserID)
		argIndex++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIndex)
		args = append(args, string(filter.EventType))
		argIndex++
	}
	if filter.ActionID != "" {
		query += fmt.Sprintf(" AND action_id = $%d", argIndex)
		args = append(args, filter.ActionID)
		argIndex++
	}
	if !filter.Start.IsZero() {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIndex)
		args = append(args, filter.Start)
		argIndex++
	}
	if !filter.End.IsZero() {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIndex)
		args = append(args, filter.End)
		argIndex++
	}

	query += " ORDER BY seq ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func broken(report *ChainReport, event *Event, msg string) *ChainReport {
	report.Intact = false
	report.BrokenSeq = event.Seq
	report.BrokenID = event.ID
	report.FailureMsg = msg
	return report
}

const selectEventColumns = `
	SELECT seq, id, event_type, action_id, approval_id, user_id,
	       timestamp, details, created_at,
	       integrity_hash, previous_hash, chain_hash`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*Event, error) {
	event := &Event{}
	var eventType string
	var actionID, approvalID sql.NullString
	var detailsJSON []byte

	err := row.Scan(
		&event.Seq,
		&event.ID,
		&eventType,
		&actionID,
		&approvalID,
		&event.UserID,
		&event.Timestamp,
		&detailsJSON,
		&event.CreatedAt,
		&event.IntegrityHash,
		&event.PreviousHash,
		&event.ChainHash,
	)
	if err != nil {
		return nil, err
	}

	event.EventType = EventType(eventType)
	event.ActionID = actionID.String
	event.ApprovalID = approvalID.String
	event.Timestamp = event.Timestamp.UTC()
	event.CreatedAt = event.CreatedAt.UTC()

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &event.Details); err != nil {
			return nil, fmt.Errorf("failed to decode event details: %w", err)
		}
	}

	return event, nil
}

// createAuditSchema creates the audit table and its query indexes.
func createAuditSchema(db *sql.DB) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS audit_events (
		seq BIGSERIAL PRIMARY KEY,
		id VARCHAR(64) UNIQUE NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		action_id VARCHAR(64),
		approval_id VARCHAR(64),
		user_id VARCHAR(128) NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		integrity_hash CHAR(64) NOT NULL,
		previous_hash VARCHAR(64) NOT NULL DEFAULT '',
		chain_hash CHAR(64) NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_action_id ON audit_events(action_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_approval_id ON audit_events(approval_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	`

	_, err := db.Exec(ddl)
	return err
}
