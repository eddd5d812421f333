// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

// Package plan defines the action-plan contract shared with the upstream
// planning collaborator. Plans arrive as four responsibility layers of
// action items; the decision pipeline annotates each item with risk and
// routing fields and hands the same structure back.
package plan

import (
	"time"
)

// Layer identifies the responsibility layer an action item belongs to.
type Layer string

const (
	LayerBorrower   Layer = "borrower"
	LayerAdvisor    Layer = "advisor"
	LayerSupervisor Layer = "supervisor"
	LayerLeadership Layer = "leadership"
)

// Layers lists the four plan layers in evaluation order.
func Layers() []Layer {
	return []Layer{LayerBorrower, LayerAdvisor, LayerSupervisor, LayerLeadership}
}

// Classification tags an action item by the kind of work it represents.
type Classification string

const (
	ClassCustomerCommunication Classification = "customer_communication"
	ClassFinancialTransaction  Classification = "financial_transaction"
	ClassComplianceAction      Classification = "compliance_action"
	ClassEscalationAction      Classification = "escalation_action"
	ClassTrainingAction        Classification = "training_action"
	ClassGeneral               Classification = "general"
)

// RiskLevel buckets a numeric risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ApprovalStatus is the lifecycle status of an action item.
type ApprovalStatus string

const (
	StatusPending      ApprovalStatus = "pending"
	StatusAutoApproved ApprovalStatus = "auto_approved"
	StatusApproved     ApprovalStatus = "approved"
	StatusRejected     ApprovalStatus = "rejected"
)

// Route is the approval authority an action or plan is sent to.
type Route string

const (
	RouteAuto       Route = "auto_approved"
	RouteAdvisor    Route = "advisor_approval"
	RouteSupervisor Route = "supervisor_approval"
	RouteLeadership Route = "leadership_approval"
	RouteExecutive  Route = "executive_approval"
)

// routeRank orders routes from least to most restrictive.
var routeRank = map[Route]int{
	RouteAuto:       0,
	RouteAdvisor:    1,
	RouteSupervisor: 2,
	RouteLeadership: 3,
	RouteExecutive:  4,
}

// MoreRestrictive returns the stricter of two routes.
func MoreRestrictive(a, b Route) Route {
	if routeRank[b] > routeRank[a] {
		return b
	}
	return a
}

// ActionItem is one unit of recommended work extracted from a plan layer.
// The planning collaborator creates it; only the risk evaluator (scoring)
// and the approval workflow (status) mutate it afterwards.
type ActionItem struct {
	ID             string         `json:"id"`
	Action         string         `json:"action"`
	Description    string         `json:"description,omitempty"`
	Priority       string         `json:"priority,omitempty"` // "urgent" triggers a risk multiplier
	Classification Classification `json:"classification,omitempty"`

	FinancialImpact  bool `json:"financial_impact"`
	ComplianceImpact bool `json:"compliance_impact"`
	CustomerFacing   bool `json:"customer_facing"`

	RiskScore      float64        `json:"risk_score"`
	RiskLevel      RiskLevel      `json:"risk_level,omitempty"`
	NeedsApproval  bool           `json:"needs_approval"`
	ApprovalStatus ApprovalStatus `json:"approval_status,omitempty"`
	Route          Route          `json:"routing_decision,omitempty"`

	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`
}

// ExecutionResult is reported back by the downstream execution collaborator.
type ExecutionResult struct {
	ActionID    string    `json:"action_id"`
	Status      string    `json:"status"` // success, failed, partial, skipped
	ExecutedBy  string    `json:"executed_by"`
	CompletedAt time.Time `json:"completed_at"`
	Detail      string    `json:"detail,omitempty"`
}

// ValidExecutionStatus reports whether s is an accepted execution outcome.
func ValidExecutionStatus(s string) bool {
	switch s {
	case "success", "failed", "partial", "skipped":
		return true
	}
	return false
}

// Context carries plan-level signals into per-action risk evaluation.
type Context struct {
	PlanID          string   `json:"plan_id"`
	ComplaintRisk   float64  `json:"complaint_risk"`
	Urgency         string   `json:"urgency"` // low, medium, high, critical
	ComplianceFlags []string `json:"compliance_flags,omitempty"`
	HighRiskPlan    bool     `json:"high_risk_plan"`
}

// ActionPlan is the four-layer structure produced by upstream planning.
type ActionPlan struct {
	PlanID         string       `json:"plan_id"`
	BorrowerPlan   []ActionItem `json:"borrower_plan"`
	AdvisorPlan    []ActionItem `json:"advisor_plan"`
	SupervisorPlan []ActionItem `json:"supervisor_plan"`
	LeadershipPlan []ActionItem `json:"leadership_plan"`
}

// LayerItems returns the mutable slice of items for a layer.
func (p *ActionPlan) LayerItems(layer Layer) []ActionItem {
	switch layer {
	case LayerBorrower:
		return p.BorrowerPlan
	case LayerAdvisor:
		return p.AdvisorPlan
	case LayerSupervisor:
		return p.SupervisorPlan
	case LayerLeadership:
		return p.LeadershipPlan
	}
	return nil
}

// SetLayerItems replaces the items for a layer.
func (p *ActionPlan) SetLayerItems(layer Layer, items []ActionItem) {
	switch layer {
	case LayerBorrower:
		p.BorrowerPlan = items
	case LayerAdvisor:
		p.AdvisorPlan = items
	case LayerSupervisor:
		p.SupervisorPlan = items
	case LayerLeadership:
		p.LeadershipPlan = items
	}
}

// TotalActions counts all items across the four layers.
func (p *ActionPlan) TotalActions() int {
	return len(p.BorrowerPlan) + len(p.AdvisorPlan) + len(p.SupervisorPlan) + len(p.LeadershipPlan)
}
