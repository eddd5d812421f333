// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

// Package audit is the system of record for every governance action: an
// append-only, hash-chained event store. Each event carries an integrity
// hash over its canonical JSON form and a chain hash linking it to the
// previous event, so any out-of-band mutation is detectable.
package audit

import (
	"time"
)

// EventType identifies the governance operation an event records.
type EventType string

const (
	EventActionCreated             EventType = "action_created"
	EventActionExecuted            EventType = "action_executed"
	EventApprovalSubmitted         EventType = "approval_submitted"
	EventApprovalApproved          EventType = "approval_approved"
	EventApprovalRejected          EventType = "approval_rejected"
	EventApprovalEscalated         EventType = "approval_escalated"
	EventBulkApproval              EventType = "bulk_approval"
	EventOverrideInitiated         EventType = "override_initiated"
	EventOverrideExecuted          EventType = "override_executed"
	EventOverrideCompleted         EventType = "override_completed"
	EventPolicyViolation           EventType = "policy_violation"
	EventGovernanceRuleAdded       EventType = "governance_rule_added"
	EventGovernanceRuleDeactivated EventType = "governance_rule_deactivated"
)

// Event is one immutable audit record.
type Event struct {
	Seq        int64                  `json:"seq,omitempty"`
	ID         string                 `json:"id"`
	EventType  EventType              `json:"event_type"`
	ActionID   string                 `json:"action_id,omitempty"`
	ApprovalID string                 `json:"approval_id,omitempty"`
	UserID     string                 `json:"user_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`

	// IntegrityHash is the SHA-256 of the event's canonical JSON form.
	IntegrityHash string `json:"integrity_hash"`
	// PreviousHash is the integrity hash of the preceding event ("" for the
	// genesis event of a logger's history).
	PreviousHash string `json:"previous_hash"`
	// ChainHash is the SHA-256 over previous_hash || integrity_hash.
	ChainHash string `json:"chain_hash"`
}

// Entry is the caller-supplied payload for LogEvent.
type Entry struct {
	EventType  EventType
	ActionID   string
	ApprovalID string
	UserID     string
	Details    map[string]interface{}
}

// Filter restricts audit queries. Zero values mean "no constraint".
type Filter struct {
	UserID    string
	EventType EventType
	ActionID  string
	Start     time.Time
	End       time.Time
	Limit     int
}

// ChainReport is the outcome of a full chain verification walk.
type ChainReport struct {
	Intact     bool   `json:"intact"`
	Events     int    `json:"events"`
	BrokenSeq  int64  `json:"broken_seq,omitempty"`
	BrokenID   string `json:"broken_id,omitempty"`
	FailureMsg string `json:"failure,omitempty"`
}

// ComplianceReport aggregates governance activity over a date window.
type ComplianceReport struct {
	PeriodStart        time.Time `json:"period_start"`
	PeriodEnd          time.Time `json:"period_end"`
	ActionsCreated     int       `json:"actions_created"`
	ApprovalsSubmitted int       `json:"approvals_submitted"`
	ApprovalsApproved  int       `json:"approvals_approved"`
	ApprovalsRejected  int       `json:"approvals_rejected"`
	Escalations        int       `json:"escalations"`
	Overrides          int       `json:"overrides"`
	Violations         int       `json:"violations"`
	AvgApprovalLatency float64   `json:"avg_approval_latency_seconds"`
	ChainIntact        bool      `json:"chain_intact"`
	GeneratedAt        time.Time `json:"generated_at"`
}
