// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package override

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"loanguard/platform/audit"
)

// followUpWindow is how long after an override the mandatory follow-up
// review must happen.
const followUpWindow = 24 * time.Hour

// stakeholders always notified when the approval chain is bypassed.
var defaultStakeholders = []string{"compliance_team", "servicing_manager", "risk_office"}

// AuditLogger is the audit surface the manager needs. Satisfied by
// *audit.Logger.
type AuditLogger interface {
	LogEvent(ctx context.Context, entry audit.Entry) (*audit.Event, error)
	Query(ctx context.Context, filter audit.Filter) ([]*audit.Event, error)
}

// Manager executes emergency overrides against a static permission map.
type Manager struct {
	repo        Repository
	audit       AuditLogger
	permissions map[string][]string
	now         func() time.Time
}

// NewManager creates the override manager. The permission map associates a
// user id with the emergency types they may invoke; the value "all" grants
// every type.
func NewManager(repo Repository, auditLogger AuditLogger, permissions map[string][]string) *Manager {
	if permissions == nil {
		permissions = map[string][]string{}
	}
	return &Manager{
		repo:        repo,
		audit:       auditLogger,
		permissions: permissions,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ValidateOverridePermission reports whether the user may invoke the given
// emergency type.
func (m *Manager) ValidateOverridePermission(userID, emergencyType string) error {
	granted, ok := m.permissions[userID]
	if !ok {
		return fmt.Errorf("%w: user %s has no override permissions", ErrUnauthorized, userID)
	}
	for _, p := range granted {
		if p == PermissionAll || p == emergencyType {
			return nil
		}
	}
	return fmt.Errorf("%w: user %s lacks permission for %s", ErrUnauthorized, userID, emergencyType)
}

// ExecuteOverride validates permissions, persists the override record, and
// brackets it with three audit events: initiated, executed, completed.
// Authorization and validation failures produce zero side effects.
func (m *Manager) ExecuteOverride(ctx context.Context, req ExecuteRequest) (*Record, error) {
	if req.ActionID == "" {
		return nil, ErrMissingAction
	}
	if !ValidEmergencyType(req.EmergencyType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEmergencyType, req.EmergencyType)
	}
	if strings.TrimSpace(req.Justification) == "" {
		return nil, ErrJustificationRequired
	}
	if err := m.ValidateOverridePermission(req.UserID, req.EmergencyType); err != nil {
		return nil, err
	}

	now := m.now()
	rec := &Record{
		ID:            uuid.New().String(),
		ActionID:      req.ActionID,
		ExecutedBy:    req.UserID,
		EmergencyType: req.EmergencyType,
		Justification: req.Justification,
		BypassedLevel: req.BypassedLevel,
		Impact: ImpactAssessment{
			RiskLevel:          "high",
			FollowUpRequired:   true,
			FollowUpDeadline:   now.Add(followUpWindow),
			NotifyStakeholders: defaultStakeholders,
		},
		ExecutedAt: now,
	}

	_, err := m.audit.LogEvent(ctx, audit.Entry{
		EventType: audit.EventOverrideInitiated,
		ActionID:  rec.ActionID,
		UserID:    rec.ExecutedBy,
		Details: map[string]interface{}{
			"override_id":    rec.ID,
			"emergency_type": rec.EmergencyType,
			"justification":  rec.Justification,
			"bypassed_level": rec.BypassedLevel,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record override initiation: %w", err)
	}

	if err := m.repo.Insert(ctx, rec); err != nil {
		return nil, err
	}

	_, err = m.audit.LogEvent(ctx, audit.Entry{
		EventType: audit.EventOverrideExecuted,
		ActionID:  rec.ActionID,
		UserID:    rec.ExecutedBy,
		Details: map[string]interface{}{
			"override_id":        rec.ID,
			"risk_level":         rec.Impact.RiskLevel,
			"follow_up_required": rec.Impact.FollowUpRequired,
			"follow_up_deadline": rec.Impact.FollowUpDeadline.Format(time.RFC3339),
			"notify":             rec.Impact.NotifyStakeholders,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record override execution: %w", err)
	}

	_, err = m.audit.LogEvent(ctx, audit.Entry{
		EventType: audit.EventOverrideCompleted,
		ActionID:  rec.ActionID,
		UserID:    rec.ExecutedBy,
		Details: map[string]interface{}{
			"override_id": rec.ID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record override completion: %w", err)
	}

	log.Printf("[OVERRIDE] Emergency override %s executed by %s on action %s (%s)",
		rec.ID, rec.ExecutedBy, rec.ActionID, rec.EmergencyType)
	return rec, nil
}

// GetOverrideRecord returns one override record by id.
func (m *Manager) GetOverrideRecord(ctx context.Context, id string) (*Record, error) {
	return m.repo.Get(ctx, id)
}

// GetRelatedAuditEvents reconstructs the full governance timeline for an
// override: the governed action's complete audit trail, which includes the
// override's own initiated/executed/completed sub-log.
func (m *Manager) GetRelatedAuditEvents(ctx context.Context, overrideID string) ([]*audit.Event, error) {
	rec, err := m.repo.Get(ctx, overrideID)
	if err != nil {
		return nil, err
	}
	return m.audit.Query(ctx, audit.Filter{ActionID: rec.ActionID})
}
