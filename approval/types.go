// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

// Package approval implements the durable state machine for individual
// approval requests: submission, routing, conditional approval, rejection,
// bulk operations, and timeout-driven escalation.
package approval

import (
	"time"
)

// Status is the lifecycle state of an approval request. Every decided
// state is terminal; escalation re-queues the request at a higher
// authority while it remains pending.
type Status string

const (
	StatusPendingApproval        Status = "pending_approval"
	StatusApproved               Status = "approved"
	StatusApprovedWithConditions Status = "approved_with_conditions"
	StatusRejected               Status = "rejected"

	// StatusEscalated never appears on a stored request: escalation keeps
	// the request pending_approval and sets its escalated flag. It is a
	// queue-filter value selecting pending requests with that flag set.
	StatusEscalated Status = "escalated"
)

// IsValidStatus reports whether s is a known request status.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusPendingApproval, StatusApproved, StatusApprovedWithConditions,
		StatusRejected, StatusEscalated:
		return true
	}
	return false
}

// Authority is the approval level a request is routed to.
type Authority string

const (
	AuthorityAdvisor    Authority = "advisor"
	AuthoritySupervisor Authority = "supervisor"
	AuthorityLeadership Authority = "leadership"
	AuthorityExecutive  Authority = "executive"
)

// NextAuthority returns the next level in the escalation chain. The second
// return is false at the top of the chain.
func NextAuthority(a Authority) (Authority, bool) {
	switch a {
	case AuthorityAdvisor:
		return AuthoritySupervisor, true
	case AuthoritySupervisor:
		return AuthorityLeadership, true
	case AuthorityLeadership:
		return AuthorityExecutive, true
	}
	return a, false
}

// Urgency levels and their default decision timeouts.
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// DefaultTimeoutHours returns the decision window for an urgency level.
func DefaultTimeoutHours(urgency string) float64 {
	switch urgency {
	case UrgencyCritical:
		return 0.5
	case UrgencyHigh:
		return 2
	case UrgencyLow:
		return 72
	}
	return 24
}

// Request is one durable approval record.
type Request struct {
	ID          string    `json:"id"`
	ActionID    string    `json:"action_id"`
	ActionText  string    `json:"action_text,omitempty"`
	SubmittedBy string    `json:"submitted_by"`
	SubmittedAt time.Time `json:"submitted_at"`

	Status       Status    `json:"status"`
	RoutedTo     Authority `json:"routed_to"`
	Urgency      string    `json:"urgency"`
	TimeoutHours float64   `json:"timeout_hours"`
	Deadline     time.Time `json:"deadline"`
	Conditions   []string  `json:"conditions,omitempty"`

	Escalated   bool       `json:"escalated"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`

	// Decision metadata, set exactly once by approve or reject.
	DecidedBy         string     `json:"decided_by,omitempty"`
	DecidedAt         *time.Time `json:"decided_at,omitempty"`
	DecisionNotes     string     `json:"decision_notes,omitempty"`
	ConditionsMet     []string   `json:"conditions_met,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
	RejectionFeedback string     `json:"rejection_feedback,omitempty"`

	// Execution tracking, reported by the downstream collaborator.
	ExecutionStatus string     `json:"execution_status,omitempty"`
	ExecutedBy      string     `json:"executed_by,omitempty"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty"`
}

// Pending reports whether the request can still be decided.
func (r *Request) Pending() bool {
	return r.Status == StatusPendingApproval
}

// SubmitRequest is the caller payload for Workflow.Submit.
type SubmitRequest struct {
	ActionID     string   `json:"action_id"`
	ActionText   string   `json:"action_text"`
	SubmittedBy  string   `json:"submitted_by"`
	Urgency      string   `json:"urgency,omitempty"`
	TimeoutHours float64  `json:"timeout_hours,omitempty"`
	Conditions   []string `json:"conditions,omitempty"`
}

// Decision captures an approve or reject transition.
type Decision struct {
	Status        Status
	DecidedBy     string
	DecidedAt     time.Time
	Notes         string
	ConditionsMet []string
	Reason        string
	Feedback      string
}

// QueueFilter restricts queue queries. Zero values mean "no constraint".
type QueueFilter struct {
	RoutedTo Authority
	Status   Status
	Limit    int
}

// BulkResult summarizes a bulk approval batch.
type BulkResult struct {
	ApprovedCount int               `json:"approved_count"`
	FailedCount   int               `json:"failed_count"`
	Failures      map[string]string `json:"failures,omitempty"`
}
