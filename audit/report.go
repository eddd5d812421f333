// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GenerateComplianceReport aggregates governance activity over a date
// window and includes the chain-integrity verdict for the full history.
func (l *Logger) GenerateComplianceReport(ctx context.Context, start, end time.Time) (*ComplianceReport, error) {
	report := &ComplianceReport{
		PeriodStart: start,
		PeriodEnd:   end,
		GeneratedAt: time.Now().UTC(),
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*)
		FROM audit_events
		WHERE timestamp >= $1 AND timestamp <= $2
		GROUP BY event_type
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}

		switch EventType(eventType) {
		case EventActionCreated:
			report.ActionsCreated = count
		case EventApprovalSubmitted:
			report.ApprovalsSubmitted = count
		case EventApprovalApproved:
			report.ApprovalsApproved = count
		case EventApprovalRejected:
			report.ApprovalsRejected = count
		case EventApprovalEscalated:
			report.Escalations = count
		case EventOverrideExecuted:
			report.Overrides = count
		case EventPolicyViolation:
			report.Violations = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Average latency between submission and decision, matched on approval id.
	var latency sql.NullFloat64
	err = l.db.QueryRowContext(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (decided.timestamp - submitted.timestamp)))
		FROM audit_events submitted
		JOIN audit_events decided
		  ON decided.approval_id = submitted.approval_id
		 AND decided.event_type = $1
		WHERE submitted.event_type = $2
		  AND submitted.timestamp >= $3 AND submitted.timestamp <= $4
	`, string(EventApprovalApproved), string(EventApprovalSubmitted), start, end).Scan(&latency)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to compute approval latency: %w", err)
	}
	if latency.Valid {
		report.AvgApprovalLatency = latency.Float64
	}

	chain, err := l.VerifyChainIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	report.ChainIntact = chain.Intact

	return report, nil
}
