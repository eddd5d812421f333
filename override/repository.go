// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package override

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// Repository is the persistence contract for override records.
type Repository interface {
	Insert(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	ListByAction(ctx context.Context, actionID string) ([]*Record, error)
}

// PostgresRepository stores override records in an indexed postgres table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates the repository and ensures the schema.
func NewPostgresRepository(db *sql.DB) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("override repository requires a database")
	}
	if err := createOverrideSchema(db); err != nil {
		return nil, fmt.Errorf("failed to create override schema: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *Record) error {
	impactJSON, err := json.Marshal(rec.Impact)
	if err != nil {
		return fmt.Errorf("failed to marshal impact assessment: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO override_records (
			id, action_id, executed_by, emergency_type, justification,
			bypassed_level, impact, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rec.ID, rec.ActionID, rec.ExecutedBy, rec.EmergencyType, rec.Justification,
		rec.BypassedLevel, impactJSON, rec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert override record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, selectRecordColumns+` FROM override_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

func (r *PostgresRepository) ListByAction(ctx context.Context, actionID string) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx,
		selectRecordColumns+` FROM override_records WHERE action_id = $1 ORDER BY executed_at ASC`,
		actionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query override records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const selectRecordColumns = `
	SELECT id, action_id, executed_by, emergency_type, justification,
	       bypassed_level, impact, executed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	rec := &Record{}
	var impactJSON []byte

	err := row.Scan(
		&rec.ID, &rec.ActionID, &rec.ExecutedBy, &rec.EmergencyType, &rec.Justification,
		&rec.BypassedLevel, &impactJSON, &rec.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.ExecutedAt = rec.ExecutedAt.UTC()

	if len(impactJSON) > 0 {
		if err := json.Unmarshal(impactJSON, &rec.Impact); err != nil {
			return nil, fmt.Errorf("failed to decode impact assessment: %w", err)
		}
	}
	return rec, nil
}

func createOverrideSchema(db *sql.DB) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS override_records (
		id VARCHAR(64) PRIMARY KEY,
		action_id VARCHAR(64) NOT NULL,
		executed_by VARCHAR(128) NOT NULL,
		emergency_type VARCHAR(64) NOT NULL,
		justification TEXT NOT NULL,
		bypassed_level VARCHAR(32) NOT NULL,
		impact JSONB NOT NULL,
		executed_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_override_records_action_id ON override_records(action_id);
	CREATE INDEX IF NOT EXISTS idx_override_records_executed_by ON override_records(executed_by);
	CREATE INDEX IF NOT EXISTS idx_override_records_executed_at ON override_records(executed_at);
	`

	_, err := db.Exec(ddl)
	return err
}

var _ Repository = (*PostgresRepository)(nil)
