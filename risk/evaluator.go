// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

// Package risk scores individual action items for approval routing.
// Scoring is a pure function of the action text, its derived impact flags,
// and the plan-level context: identical input always yields an identical
// score. There are no external calls and no error paths beyond treating
// missing action text as empty.
package risk

import (
	"strings"
	"sync"
	"time"

	"loanguard/platform/plan"
)

// Scoring weights and adjustment factors.
const (
	weightFinancialImpact  = 0.4
	weightComplianceImpact = 0.3
	weightHighRiskKeyword  = 0.3
	weightComplaintExposed = 0.2

	multiplierUrgentPriority = 1.2
	multiplierHighUrgency    = 1.1
	multiplierComplianceFlag = 1.15

	// complaintRiskExposure is the plan complaint-risk level above which a
	// customer-facing action picks up the exposure weight.
	complaintRiskExposure = 0.6
)

// Risk-level thresholds on the clamped score.
const (
	ThresholdHigh   = 0.7
	ThresholdMedium = 0.4
)

// maxLogEntries bounds the in-memory evaluation log. The log feeds summary
// statistics only; the audit trail is the system of record.
const maxLogEntries = 1000

var highRiskKeywords = []string{
	"escalate", "override", "waive", "terminate", "foreclose",
	"legal action", "litigation", "write off", "forbearance",
}

var financialKeywords = []string{
	"refund", "payment", "charge", "fee", "escrow", "disburse",
	"credit", "debit", "wire", "modification", "payoff",
}

var complianceKeywords = []string{
	"compliance", "regulation", "disclosure", "respa", "tila",
	"regulatory", "cfpb", "investor reporting",
}

var customerFacingKeywords = []string{
	"customer", "borrower", "call", "contact", "notify", "inform",
	"letter", "email", "follow up", "follow-up",
}

var escalationKeywords = []string{
	"escalate", "escalation", "supervisor review", "leadership review",
}

var trainingKeywords = []string{
	"training", "coach", "coaching", "mentor", "onboarding",
}

// Evaluation is one entry in the evaluator's in-memory log.
type Evaluation struct {
	ActionID  string         `json:"action_id"`
	Action    string         `json:"action"`
	Score     float64        `json:"score"`
	Level     plan.RiskLevel `json:"level"`
	Timestamp time.Time      `json:"timestamp"`
}

// Summary aggregates the evaluation log for reporting.
type Summary struct {
	TotalEvaluations int                    `json:"total_evaluations"`
	AverageScore     float64                `json:"average_score"`
	CountsByLevel    map[plan.RiskLevel]int `json:"counts_by_level"`
}

// Evaluator annotates action items with classification, impact flags, and
// a deterministic risk score. Safe for concurrent use.
type Evaluator struct {
	mu  sync.Mutex
	log []Evaluation
}

// NewEvaluator creates an Evaluator with an empty evaluation log.
func NewEvaluator() *Evaluator {
	return &Evaluator{log: make([]Evaluation, 0, 64)}
}

// Evaluate scores a single action item against the plan context and returns
// the annotated copy. The input item is not modified.
func (e *Evaluator) Evaluate(item plan.ActionItem, ctx plan.Context) plan.ActionItem {
	text := strings.ToLower(item.Action + " " + item.Description)

	item.Classification = classify(text)
	item.FinancialImpact = item.FinancialImpact || containsAny(text, financialKeywords)
	item.ComplianceImpact = item.ComplianceImpact || containsAny(text, complianceKeywords)
	item.CustomerFacing = item.CustomerFacing || containsAny(text, customerFacingKeywords)

	score := 0.0
	if item.FinancialImpact {
		score += weightFinancialImpact
	}
	if item.ComplianceImpact {
		score += weightComplianceImpact
	}
	if containsAny(text, highRiskKeywords) {
		score += weightHighRiskKeyword
	}
	if item.CustomerFacing && ctx.ComplaintRisk > complaintRiskExposure {
		score += weightComplaintExposed
	}

	if strings.EqualFold(item.Priority, "urgent") {
		score *= multiplierUrgentPriority
	}
	if ctx.Urgency == "high" || ctx.Urgency == "critical" {
		score *= multiplierHighUrgency
	}
	if len(ctx.ComplianceFlags) > 0 {
		score *= multiplierComplianceFlag
	}

	item.RiskScore = clamp(score)

	switch {
	case item.RiskScore >= ThresholdHigh:
		item.RiskLevel = plan.RiskHigh
		item.NeedsApproval = true
	case item.RiskScore >= ThresholdMedium:
		item.RiskLevel = plan.RiskMedium
		// Medium-risk actions inherit the approval requirement from the
		// plan-level risk posture.
		item.NeedsApproval = ctx.HighRiskPlan
	default:
		item.RiskLevel = plan.RiskLow
		item.NeedsApproval = false
	}

	// Customer-facing actions inside a plan already flagged high-risk always
	// require approval, whatever the computed score says.
	if item.CustomerFacing && ctx.HighRiskPlan {
		item.NeedsApproval = true
	}

	if item.NeedsApproval {
		item.ApprovalStatus = plan.StatusPending
	} else {
		item.ApprovalStatus = plan.StatusAutoApproved
	}

	e.record(Evaluation{
		ActionID:  item.ID,
		Action:    item.Action,
		Score:     item.RiskScore,
		Level:     item.RiskLevel,
		Timestamp: time.Now().UTC(),
	})

	return item
}

// Summarize reports aggregate statistics over the evaluation log.
func (e *Evaluator) Summarize() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	summary := Summary{
		TotalEvaluations: len(e.log),
		CountsByLevel:    make(map[plan.RiskLevel]int),
	}

	if len(e.log) == 0 {
		return summary
	}

	total := 0.0
	for _, ev := range e.log {
		total += ev.Score
		summary.CountsByLevel[ev.Level]++
	}
	summary.AverageScore = total / float64(len(e.log))

	return summary
}

// Log returns a copy of the evaluation log, oldest first.
func (e *Evaluator) Log() []Evaluation {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Evaluation, len(e.log))
	copy(out, e.log)
	return out
}

func (e *Evaluator) record(ev Evaluation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.log = append(e.log, ev)
	if len(e.log) > maxLogEntries {
		e.log = e.log[len(e.log)-maxLogEntries:]
	}
}

func classify(text string) plan.Classification {
	switch {
	case containsAny(text, financialKeywords):
		return plan.ClassFinancialTransaction
	case containsAny(text, complianceKeywords):
		return plan.ClassComplianceAction
	case containsAny(text, escalationKeywords):
		return plan.ClassEscalationAction
	case containsAny(text, trainingKeywords):
		return plan.ClassTrainingAction
	case containsAny(text, customerFacingKeywords):
		return plan.ClassCustomerCommunication
	}
	return plan.ClassGeneral
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	return v
}
