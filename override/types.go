// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

// Package override implements the permission-gated emergency bypass of the
// normal approval chain. Every executed override is persisted immutably and
// bracketed by enhanced audit logging.
package override

import "time"

// Emergency types accepted by the override path.
const (
	EmergencyRegulatoryDeadline = "regulatory_deadline"
	EmergencyCustomerHarm       = "customer_harm"
	EmergencyLegalAction        = "legal_action"
	EmergencySystemFailure      = "system_failure"

	// PermissionAll grants every emergency type.
	PermissionAll = "all"
)

// ValidEmergencyType reports whether t is a recognized emergency tag.
func ValidEmergencyType(t string) bool {
	switch t {
	case EmergencyRegulatoryDeadline, EmergencyCustomerHarm,
		EmergencyLegalAction, EmergencySystemFailure:
		return true
	}
	return false
}

// ImpactAssessment is the standard consequence summary attached to every
// executed override. The override path always carries high risk.
type ImpactAssessment struct {
	RiskLevel          string    `json:"risk_level"`
	FollowUpRequired   bool      `json:"follow_up_required"`
	FollowUpDeadline   time.Time `json:"follow_up_deadline"`
	NotifyStakeholders []string  `json:"notify_stakeholders"`
}

// Record is one immutable emergency-bypass record.
type Record struct {
	ID            string           `json:"id"`
	ActionID      string           `json:"action_id"`
	ExecutedBy    string           `json:"executed_by"`
	EmergencyType string           `json:"emergency_type"`
	Justification string           `json:"justification"`
	BypassedLevel string           `json:"bypassed_level"`
	Impact        ImpactAssessment `json:"impact"`
	ExecutedAt    time.Time        `json:"executed_at"`
}

// ExecuteRequest is the caller payload for Manager.ExecuteOverride.
type ExecuteRequest struct {
	ActionID      string `json:"action_id"`
	UserID        string `json:"user_id"`
	EmergencyType string `json:"emergency_type"`
	Justification string `json:"justification"`
	BypassedLevel string `json:"bypassed_level"`
}
