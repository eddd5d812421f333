// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

// Package decision walks a four-layer action plan, scores every contained
// action through the risk evaluator, and applies business-rule routing.
// Business rules dominate the numeric score: a financial or compliance
// impact always routes to supervisor approval no matter what the evaluator
// computed.
package decision

import (
	"log"
	"sync"
	"time"

	"loanguard/platform/plan"
	"loanguard/platform/risk"
)

// complaintRiskEscalation is the plan complaint-risk level above which any
// customer-facing action routes to supervisor approval.
const complaintRiskEscalation = 0.7

// Score thresholds for rule (4): routing by computed risk alone.
const (
	scoreSupervisor = 0.7
	scoreAdvisor    = 0.3
)

// maxLogEntries bounds the in-memory decision log. This log is a local
// convenience cache for summary statistics; the audit trail remains the
// system of record.
const maxLogEntries = 500

// PlanDecision is the aggregate routing outcome for one plan evaluation.
type PlanDecision struct {
	PlanID      string             `json:"plan_id"`
	Route       plan.Route         `json:"routing_decision"`
	RouteCounts map[plan.Route]int `json:"route_counts"`
	Actions     int                `json:"actions"`
	EvaluatedAt time.Time          `json:"evaluated_at"`

	ComplaintRisk float64 `json:"complaint_risk"`
	Urgency       string  `json:"urgency"`
}

// Agent orchestrates risk evaluation and routing across an action plan.
// Safe for concurrent use.
type Agent struct {
	evaluator *risk.Evaluator

	mu  sync.Mutex
	log []PlanDecision
}

// NewAgent creates a decision agent backed by the given evaluator.
func NewAgent(evaluator *risk.Evaluator) *Agent {
	if evaluator == nil {
		evaluator = risk.NewEvaluator()
	}
	return &Agent{evaluator: evaluator, log: make([]PlanDecision, 0, 16)}
}

// EvaluatePlan evaluates every action in every layer, annotates the plan in
// place with risk and routing fields, and returns the plan-level decision.
func (a *Agent) EvaluatePlan(p *plan.ActionPlan, ctx plan.Context) *PlanDecision {
	if ctx.PlanID == "" {
		ctx.PlanID = p.PlanID
	}

	decision := &PlanDecision{
		PlanID:        p.PlanID,
		Route:         plan.RouteAuto,
		RouteCounts:   make(map[plan.Route]int),
		EvaluatedAt:   time.Now().UTC(),
		ComplaintRisk: ctx.ComplaintRisk,
		Urgency:       ctx.Urgency,
	}

	for _, layer := range plan.Layers() {
		items := p.LayerItems(layer)
		for i := range items {
			evaluated := a.evaluator.Evaluate(items[i], ctx)
			evaluated.Route = a.RouteAction(evaluated, ctx)
			if evaluated.Route != plan.RouteAuto {
				evaluated.NeedsApproval = true
				evaluated.ApprovalStatus = plan.StatusPending
			}
			items[i] = evaluated

			decision.RouteCounts[evaluated.Route]++
			decision.Route = plan.MoreRestrictive(decision.Route, evaluated.Route)
			decision.Actions++
		}
		p.SetLayerItems(layer, items)
	}

	a.record(*decision)
	log.Printf("[DECISION] plan %s routed to %s (%d actions)", p.PlanID, decision.Route, decision.Actions)

	return decision
}

// RouteAction applies the business rules in strict precedence and returns
// the routing decision for a single evaluated action.
func (a *Agent) RouteAction(item plan.ActionItem, ctx plan.Context) plan.Route {
	// (1) Financial impact always needs supervisor sign-off.
	if item.FinancialImpact {
		return plan.RouteSupervisor
	}
	// (2) So does compliance impact.
	if item.ComplianceImpact {
		return plan.RouteSupervisor
	}
	// (3) Customer-facing work under elevated complaint risk.
	if ctx.ComplaintRisk > complaintRiskEscalation && item.CustomerFacing {
		return plan.RouteSupervisor
	}
	// (4) Otherwise route on the computed score.
	switch {
	case item.RiskScore >= scoreSupervisor:
		return plan.RouteSupervisor
	case item.RiskScore >= scoreAdvisor:
		return plan.RouteAdvisor
	}
	return plan.RouteAuto
}

// DecisionLog returns a copy of the in-memory decision log, oldest first.
func (a *Agent) DecisionLog() []PlanDecision {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]PlanDecision, len(a.log))
	copy(out, a.log)
	return out
}

func (a *Agent) record(d PlanDecision) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.log = append(a.log, d)
	if len(a.log) > maxLogEntries {
		a.log = a.log[len(a.log)-maxLogEntries:]
	}
}
