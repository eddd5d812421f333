// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

// Package governance produces qualitative routing decisions by consulting a
// natural-language evaluation service, for action types the deterministic
// evaluator cannot judge. It fails loudly: an unreachable service or a
// schema-non-conforming response is an error, never a default decision.
package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"loanguard/platform/audit"
	"loanguard/platform/llm"
)

const (
	evaluationMaxTokens   = 1024
	evaluationTemperature = 0.0
)

// ErrRuleNotFound is returned when a rule ID does not exist in the set.
var ErrRuleNotFound = errors.New("governance rule not found")

// systemPrompt frames the evaluation service as a mortgage-servicing
// governance reviewer and pins the response format.
const systemPrompt = `You are a governance reviewer for a mortgage-servicing call center.
Given an action item and its numeric risk hints, decide the approval routing.
Respond with a single JSON object and nothing else, matching this shape:
{"routing_decision": "auto_approved|advisor_approval|supervisor_approval|leadership_approval",
 "risk_assessment": "low|medium|high|critical",
 "reasoning": "<free text>",
 "confidence": <0.0-1.0>,
 "compliance_concerns": ["<concern>", ...]}`

// assessmentSchemaJSON validates the evaluation service's response. A
// response that does not conform is an error, not a candidate for repair.
const assessmentSchemaJSON = `{
	"type": "object",
	"required": ["routing_decision", "risk_assessment", "reasoning", "confidence"],
	"properties": {
		"routing_decision": {
			"type": "string",
			"enum": ["auto_approved", "advisor_approval", "supervisor_approval", "leadership_approval"]
		},
		"risk_assessment": {
			"type": "string",
			"enum": ["low", "medium", "high", "critical"]
		},
		"reasoning": {"type": "string", "minLength": 1},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"compliance_concerns": {
			"type": "array",
			"items": {"type": "string"}
		}
	}
}`

var assessmentSchema = jsonschema.MustCompileString("assessment.json", assessmentSchemaJSON)

// Assessment is the structured result of one qualitative evaluation.
type Assessment struct {
	RoutingDecision    string   `json:"routing_decision"`
	RiskAssessment     string   `json:"risk_assessment"`
	Reasoning          string   `json:"reasoning"`
	Confidence         float64  `json:"confidence"`
	ComplianceConcerns []string `json:"compliance_concerns,omitempty"`
}

// EvaluationInput is the action plus the numeric hints forwarded to the
// evaluation service.
type EvaluationInput struct {
	Action          string   `json:"action"`
	Description     string   `json:"description,omitempty"`
	RiskScore       float64  `json:"risk_score"`
	FinancialImpact bool     `json:"financial_impact"`
	ComplianceFlags []string `json:"compliance_flags,omitempty"`
}

// Rule is one dynamically added governance rule. Rules are validated by the
// evaluation service before admission; matching rules force escalation.
// A rule only applies inside its effective window, and deactivation is a
// soft flag: rules are never removed from the set.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Keyword     string    `json:"keyword"`
	ForcedRoute string    `json:"forced_route"`
	Rationale   string    `json:"rationale"`
	AddedBy     string    `json:"added_by"`
	AddedAt     time.Time `json:"added_at"`

	// EffectiveFrom/EffectiveUntil bound when the rule applies. A zero
	// EffectiveFrom means "immediately"; a zero EffectiveUntil means
	// "indefinitely".
	EffectiveFrom  time.Time `json:"effective_from,omitempty"`
	EffectiveUntil time.Time `json:"effective_until,omitempty"`

	Active        bool       `json:"active"`
	DeactivatedBy string     `json:"deactivated_by,omitempty"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// InEffect reports whether the rule applies at the given instant.
func (r Rule) InEffect(at time.Time) bool {
	if !r.Active {
		return false
	}
	if !r.EffectiveFrom.IsZero() && at.Before(r.EffectiveFrom) {
		return false
	}
	if !r.EffectiveUntil.IsZero() && at.After(r.EffectiveUntil) {
		return false
	}
	return true
}

// AuditLogger records governance events. Satisfied by *audit.Logger.
type AuditLogger interface {
	LogEvent(ctx context.Context, entry audit.Entry) (*audit.Event, error)
}

// Engine consults the evaluation service and applies the active rule set.
type Engine struct {
	provider llm.Provider
	audit    AuditLogger
	now      func() time.Time

	mu    sync.RWMutex
	rules []Rule
}

// NewEngine creates a governance engine backed by the given provider.
func NewEngine(provider llm.Provider, auditLogger AuditLogger) *Engine {
	return &Engine{
		provider: provider,
		audit:    auditLogger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate obtains a qualitative routing decision for one action. The
// provider's failure or a non-conforming response propagates verbatim;
// matching governance rules then force the more restrictive route.
func (e *Engine) Evaluate(ctx context.Context, input EvaluationInput) (*Assessment, error) {
	if strings.TrimSpace(input.Action) == "" {
		return nil, fmt.Errorf("action text is required")
	}

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:       buildPrompt(input),
		SystemPrompt: systemPrompt,
		MaxTokens:    evaluationMaxTokens,
		Temperature:  evaluationTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation service failed: %w", err)
	}

	assessment, err := parseAssessment(resp.Content)
	if err != nil {
		return nil, err
	}

	if rule, ok := e.matchRule(input); ok {
		if routeRank(rule.ForcedRoute) > routeRank(assessment.RoutingDecision) {
			log.Printf("[GOVERNANCE] Rule %q forces %s over %s for action %q",
				rule.Name, rule.ForcedRoute, assessment.RoutingDecision, input.Action)
			assessment.RoutingDecision = rule.ForcedRoute
			assessment.Reasoning = fmt.Sprintf("%s [governance rule %q: %s]",
				assessment.Reasoning, rule.Name, rule.Rationale)
		}
	}

	return assessment, nil
}

// AddRule validates a proposed rule through the evaluation service and, on
// acceptance, admits it to the active set and records a
// governance_rule_added event.
func (e *Engine) AddRule(ctx context.Context, rule Rule) (*Rule, error) {
	if strings.TrimSpace(rule.Name) == "" {
		return nil, fmt.Errorf("rule name is required")
	}
	if strings.TrimSpace(rule.Keyword) == "" {
		return nil, fmt.Errorf("rule keyword is required")
	}
	if routeRank(rule.ForcedRoute) < 0 {
		return nil, fmt.Errorf("invalid forced route %q", rule.ForcedRoute)
	}
	if !rule.EffectiveFrom.IsZero() && !rule.EffectiveUntil.IsZero() &&
		!rule.EffectiveUntil.After(rule.EffectiveFrom) {
		return nil, fmt.Errorf("effective window ends before it starts")
	}

	// The rule itself goes through the same qualitative review as an
	// action: the service judges whether the rule is coherent policy.
	assessment, err := e.Evaluate(ctx, EvaluationInput{
		Action: fmt.Sprintf("Adopt governance rule %q: actions mentioning %q require %s. Rationale: %s",
			rule.Name, rule.Keyword, rule.ForcedRoute, rule.Rationale),
	})
	if err != nil {
		return nil, fmt.Errorf("rule validation failed: %w", err)
	}

	rule.ID = uuid.New().String()
	rule.AddedAt = e.now()
	rule.Active = true
	rule.DeactivatedBy = ""
	rule.DeactivatedAt = nil

	e.mu.Lock()
	e.rules = append(e.rules, rule)
	e.mu.Unlock()

	if e.audit != nil {
		_, err = e.audit.LogEvent(ctx, audit.Entry{
			EventType: audit.EventGovernanceRuleAdded,
			UserID:    rule.AddedBy,
			Details: map[string]interface{}{
				"rule_id":      rule.ID,
				"rule_name":    rule.Name,
				"keyword":      rule.Keyword,
				"forced_route": rule.ForcedRoute,
				"validation":   assessment.Reasoning,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record rule admission: %w", err)
		}
	}

	log.Printf("[GOVERNANCE] Rule %q added by %s (keyword %q -> %s)",
		rule.Name, rule.AddedBy, rule.Keyword, rule.ForcedRoute)
	return &rule, nil
}

// DeactivateRule retires a rule by flipping its soft flag. The rule stays
// in the set for audit history; it is never deleted.
func (e *Engine) DeactivateRule(ctx context.Context, id, deactivatedBy string) (*Rule, error) {
	e.mu.Lock()
	var retired *Rule
	for i := range e.rules {
		if e.rules[i].ID == id {
			if e.rules[i].Active {
				at := e.now()
				e.rules[i].Active = false
				e.rules[i].DeactivatedBy = deactivatedBy
				e.rules[i].DeactivatedAt = &at
			}
			copied := e.rules[i]
			retired = &copied
			break
		}
	}
	e.mu.Unlock()

	if retired == nil {
		return nil, ErrRuleNotFound
	}

	if e.audit != nil {
		_, err := e.audit.LogEvent(ctx, audit.Entry{
			EventType: audit.EventGovernanceRuleDeactivated,
			UserID:    deactivatedBy,
			Details: map[string]interface{}{
				"rule_id":   retired.ID,
				"rule_name": retired.Name,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record rule deactivation: %w", err)
		}
	}

	log.Printf("[GOVERNANCE] Rule %q deactivated by %s", retired.Name, deactivatedBy)
	return retired, nil
}

// Rules returns a snapshot of the full rule set, retired rules included.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// IsHealthy reports whether the evaluation backend is operational.
func (e *Engine) IsHealthy() bool {
	return e.provider.IsHealthy()
}

func (e *Engine) matchRule(input EvaluationInput) (Rule, bool) {
	text := strings.ToLower(input.Action + " " + input.Description)
	now := e.now()
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, rule := range e.rules {
		if !rule.InEffect(now) {
			continue
		}
		if strings.Contains(text, strings.ToLower(rule.Keyword)) {
			return rule, true
		}
	}
	return Rule{}, false
}

// buildPrompt serializes the action and its numeric hints for the service.
func buildPrompt(input EvaluationInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s\n", input.Action)
	if input.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", input.Description)
	}
	fmt.Fprintf(&b, "Risk score: %.2f\n", input.RiskScore)
	fmt.Fprintf(&b, "Financial impact: %t\n", input.FinancialImpact)
	if len(input.ComplianceFlags) > 0 {
		fmt.Fprintf(&b, "Compliance flags: %s\n", strings.Join(input.ComplianceFlags, ", "))
	}
	return b.String()
}

// parseAssessment validates the raw response against the expected schema
// before decoding. Markdown code fences around the JSON are tolerated.
func parseAssessment(content string) (*Assessment, error) {
	raw := stripCodeFence(content)

	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("evaluation response is not valid JSON: %w", err)
	}
	if err := assessmentSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("evaluation response failed schema validation: %w", err)
	}

	var assessment Assessment
	if err := json.Unmarshal([]byte(raw), &assessment); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation response: %w", err)
	}
	return &assessment, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// routeRank orders routes by restrictiveness; -1 means unknown.
func routeRank(route string) int {
	switch route {
	case "auto_approved":
		return 0
	case "advisor_approval":
		return 1
	case "supervisor_approval":
		return 2
	case "leadership_approval":
		return 3
	}
	return -1
}
