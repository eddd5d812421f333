// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"loanguard/platform/plan"
)

// Repository is the persistence contract for approval requests.
type Repository interface {
	Insert(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	GetByAction(ctx context.Context, actionID string) (*Request, error)

	// Decide transitions a request out of pending_approval. The update is
	// conditional on the current status so concurrent deciders get exactly
	// one winner; the loser receives ErrNotPending.
	Decide(ctx context.Context, id string, decision Decision) (*Request, error)

	// Escalate advances routing one level and marks the request escalated.
	// Returns false without error when another scan already claimed it.
	Escalate(ctx context.Context, id string, to Authority, at time.Time) (bool, error)

	ListPendingExpired(ctx context.Context, now time.Time) ([]*Request, error)
	Queue(ctx context.Context, filter QueueFilter) ([]*Request, error)
	RecordExecution(ctx context.Context, actionID string, result plan.ExecutionResult) (*Request, error)
}

// PostgresRepository implements Repository over an indexed postgres table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates the repository and ensures the schema.
func NewPostgresRepository(db *sql.DB) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("approval repository requires a database")
	}
	if err := createApprovalSchema(db); err != nil {
		return nil, fmt.Errorf("failed to create approval schema: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, req *Request) error {
	conditionsJSON, err := json.Marshal(req.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO approval_requests (
			id, action_id, action_text, submitted_by, submitted_at,
			status, routed_to, urgency, timeout_hours, deadline, conditions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		req.ID, req.ActionID, req.ActionText, req.SubmittedBy, req.SubmittedAt,
		string(req.Status), string(req.RoutedTo), req.Urgency, req.TimeoutHours,
		req.Deadline, conditionsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Request, error) {
	row := r.db.QueryRowContext(ctx, selectRequestColumns+` FROM approval_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

func (r *PostgresRepository) GetByAction(ctx context.Context, actionID string) (*Request, error) {
	row := r.db.QueryRowContext(ctx,
		selectRequestColumns+` FROM approval_requests WHERE action_id = $1 ORDER BY submitted_at DESC LIMIT 1`,
		actionID)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

func (r *PostgresRepository) Decide(ctx context.Context, id string, decision Decision) (*Request, error) {
	conditionsMetJSON, err := json.Marshal(decision.ConditionsMet)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conditions met: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = $1, decided_by = $2, decided_at = $3, decision_notes = $4,
		    conditions_met = $5, rejection_reason = $6, rejection_feedback = $7
		WHERE id = $8 AND status = $9
	`,
		string(decision.Status), decision.DecidedBy, decision.DecidedAt, decision.Notes,
		conditionsMetJSON, decision.Reason, decision.Feedback,
		id, string(StatusPendingApproval),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update approval request: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Lost the race or bad id: tell the caller which.
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrNotPending
	}

	return r.Get(ctx, id)
}

func (r *PostgresRepository) Escalate(ctx context.Context, id string, to Authority, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET routed_to = $1, escalated = TRUE, escalated_at = $2,
		    deadline = $2 + (timeout_hours * INTERVAL '1 hour')
		WHERE id = $3 AND status = $4 AND escalated = FALSE
	`, string(to), at, id, string(StatusPendingApproval))
	if err != nil {
		return false, fmt.Errorf("failed to escalate approval request: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PostgresRepository) ListPendingExpired(ctx context.Context, now time.Time) ([]*Request, error) {
	rows, err := r.db.QueryContext(ctx, selectRequestColumns+`
		FROM approval_requests
		WHERE status = $1 AND escalated = FALSE AND deadline <= $2
		ORDER BY submitted_at ASC
	`, string(StatusPendingApproval), now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRequests(rows)
}

func (r *PostgresRepository) Queue(ctx context.Context, filter QueueFilter) ([]*Request, error) {
	query := selectRequestColumns + ` FROM approval_requests WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filter.RoutedTo != "" {
		query += fmt.Sprintf(" AND routed_to = $%d", argIndex)
		args = append(args, string(filter.RoutedTo))
		argIndex++
	}
	if filter.Status == StatusEscalated {
		// Escalated requests stay pending_approval; the flag is what
		// distinguishes them in the queue.
		query += fmt.Sprintf(" AND status = $%d AND escalated = TRUE", argIndex)
		args = append(args, string(StatusPendingApproval))
		argIndex++
	} else if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, string(filter.Status))
		argIndex++
	}

	// Oldest first: FIFO fairness for the approval queue.
	query += " ORDER BY submitted_at ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRequests(rows)
}

func (r *PostgresRepository) RecordExecution(ctx context.Context, actionID string, result plan.ExecutionResult) (*Request, error) {
	req, err := r.GetByAction(ctx, actionID)
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET execution_status = $1, executed_by = $2, executed_at = $3
		WHERE id = $4
	`, result.Status, result.ExecutedBy, result.CompletedAt, req.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record execution result: %w", err)
	}

	return r.Get(ctx, req.ID)
}

const selectRequestColumns = `
	SELECT id, action_id, action_text, submitted_by, submitted_at,
	       status, routed_to, urgency, timeout_hours, deadline, conditions,
	       escalated, escalated_at,
	       decided_by, decided_at, decision_notes, conditions_met,
	       rejection_reason, rejection_feedback,
	       execution_status, executed_by, executed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*Request, error) {
	req := &Request{}
	var status, routedTo string
	var conditionsJSON, conditionsMetJSON []byte
	var escalatedAt, decidedAt, executedAt sql.NullTime
	var decidedBy, decisionNotes, rejectionReason, rejectionFeedback sql.NullString
	var executionStatus, executedBy sql.NullString

	err := row.Scan(
		&req.ID, &req.ActionID, &req.ActionText, &req.SubmittedBy, &req.SubmittedAt,
		&status, &routedTo, &req.Urgency, &req.TimeoutHours, &req.Deadline, &conditionsJSON,
		&req.Escalated, &escalatedAt,
		&decidedBy, &decidedAt, &decisionNotes, &conditionsMetJSON,
		&rejectionReason, &rejectionFeedback,
		&executionStatus, &executedBy, &executedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Status = Status(status)
	req.RoutedTo = Authority(routedTo)
	req.DecidedBy = decidedBy.String
	req.DecisionNotes = decisionNotes.String
	req.RejectionReason = rejectionReason.String
	req.RejectionFeedback = rejectionFeedback.String
	req.ExecutionStatus = executionStatus.String
	req.ExecutedBy = executedBy.String

	if escalatedAt.Valid {
		t := escalatedAt.Time.UTC()
		req.EscalatedAt = &t
	}
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		req.DecidedAt = &t
	}
	if executedAt.Valid {
		t := executedAt.Time.UTC()
		req.ExecutedAt = &t
	}

	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &req.Conditions); err != nil {
			return nil, fmt.Errorf("failed to decode conditions: %w", err)
		}
	}
	if len(conditionsMetJSON) > 0 {
		if err := json.Unmarshal(conditionsMetJSON, &req.ConditionsMet); err != nil {
			return nil, fmt.Errorf("failed to decode conditions met: %w", err)
		}
	}

	return req, nil
}

func collectRequests(rows *sql.Rows) ([]*Request, error) {
	var requests []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// createApprovalSchema creates the approval table and its query indexes.
func createApprovalSchema(db *sql.DB) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS approval_requests (
		id VARCHAR(64) PRIMARY KEY,
		action_id VARCHAR(64) NOT NULL,
		action_text TEXT NOT NULL DEFAULT '',
		submitted_by VARCHAR(128) NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL,
		status VARCHAR(32) NOT NULL,
		routed_to VARCHAR(32) NOT NULL,
		urgency VARCHAR(16) NOT NULL,
		timeout_hours DOUBLE PRECISION NOT NULL,
		deadline TIMESTAMPTZ NOT NULL,
		conditions JSONB,
		escalated BOOLEAN NOT NULL DEFAULT FALSE,
		escalated_at TIMESTAMPTZ,
		decided_by VARCHAR(128),
		decided_at TIMESTAMPTZ,
		decision_notes TEXT,
		conditions_met JSONB,
		rejection_reason TEXT,
		rejection_feedback TEXT,
		execution_status VARCHAR(16),
		executed_by VARCHAR(128),
		executed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_approval_requests_status ON approval_requests(status);
	CREATE INDEX IF NOT EXISTS idx_approval_requests_routed_to ON approval_requests(routed_to);
	CREATE INDEX IF NOT EXISTS idx_approval_requests_action_id ON approval_requests(action_id);
	CREATE INDEX IF NOT EXISTS idx_approval_requests_submitted_at ON approval_requests(submitted_at);
	CREATE INDEX IF NOT EXISTS idx_approval_requests_deadline ON approval_requests(deadline);
	`

	_, err := db.Exec(ddl)
	return err
}

// Verify interface compliance at compile time.
var _ Repository = (*PostgresRepository)(nil)
