// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanguard/platform/audit"
	"loanguard/platform/llm"
)

// fakeProvider returns canned responses in order.
type fakeProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []llm.CompletionRequest
	healthy   bool
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, errors.New("no canned response")
	}
	content := f.responses[0]
	f.responses = f.responses[1:]
	return &llm.CompletionResponse{Content: content, Model: "fake"}, nil
}

func (f *fakeProvider) IsHealthy() bool { return f.healthy }

type auditRecorder struct {
	mu     sync.Mutex
	events []audit.Entry
}

func (r *auditRecorder) LogEvent(_ context.Context, entry audit.Entry) (*audit.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, entry)
	return &audit.Event{EventType: entry.EventType}, nil
}

const validResponse = `{
	"routing_decision": "supervisor_approval",
	"risk_assessment": "high",
	"reasoning": "Fee waiver touches borrower funds.",
	"confidence": 0.86,
	"compliance_concerns": ["RESPA servicing rules"]
}`

func TestEvaluateParsesValidResponse(t *testing.T) {
	provider := &fakeProvider{responses: []string{validResponse}, healthy: true}
	engine := NewEngine(provider, nil)

	assessment, err := engine.Evaluate(context.Background(), EvaluationInput{
		Action:          "Waive the late fee",
		RiskScore:       0.55,
		FinancialImpact: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "supervisor_approval", assessment.RoutingDecision)
	assert.Equal(t, "high", assessment.RiskAssessment)
	assert.InDelta(t, 0.86, assessment.Confidence, 0.001)
	assert.Equal(t, []string{"RESPA servicing rules"}, assessment.ComplianceConcerns)

	// Numeric hints forwarded in the prompt.
	require.Len(t, provider.prompts, 1)
	assert.Contains(t, provider.prompts[0].Prompt, "Risk score: 0.55")
	assert.Contains(t, provider.prompts[0].Prompt, "Financial impact: true")
}

func TestEvaluateToleratesCodeFence(t *testing.T) {
	provider := &fakeProvider{responses: []string{"```json\n" + validResponse + "\n```"}}
	engine := NewEngine(provider, nil)

	assessment, err := engine.Evaluate(context.Background(), EvaluationInput{Action: "Waive the late fee"})
	require.NoError(t, err)
	assert.Equal(t, "supervisor_approval", assessment.RoutingDecision)
}

func TestEvaluateFailsLoudlyOnProviderError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("connection refused")}
	engine := NewEngine(provider, nil)

	_, err := engine.Evaluate(context.Background(), EvaluationInput{Action: "Waive the late fee"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluation service failed")
}

func TestEvaluateRejectsNonConformingResponses(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "the action looks risky to me"},
		{"missing fields", `{"routing_decision": "supervisor_approval"}`},
		{"unknown route", `{"routing_decision": "ceo_approval", "risk_assessment": "high", "reasoning": "x", "confidence": 0.5}`},
		{"confidence out of range", `{"routing_decision": "advisor_approval", "risk_assessment": "low", "reasoning": "x", "confidence": 1.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{responses: []string{tt.content}}
			engine := NewEngine(provider, nil)

			_, err := engine.Evaluate(context.Background(), EvaluationInput{Action: "Waive the late fee"})
			require.Error(t, err)
		})
	}
}

func TestAddRuleValidatedByService(t *testing.T) {
	provider := &fakeProvider{responses: []string{validResponse, validResponse}}
	recorder := &auditRecorder{}
	engine := NewEngine(provider, recorder)

	rule, err := engine.AddRule(context.Background(), Rule{
		Name:        "foreclosure-review",
		Keyword:     "foreclose",
		ForcedRoute: "leadership_approval",
		Rationale:   "foreclosure actions always need leadership sign-off",
		AddedBy:     "compliance-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	require.Len(t, engine.Rules(), 1)

	require.Len(t, recorder.events, 1)
	assert.Equal(t, audit.EventGovernanceRuleAdded, recorder.events[0].EventType)

	// A matching action is escalated past the service's own decision.
	assessment, err := engine.Evaluate(context.Background(), EvaluationInput{
		Action: "Foreclose on the property at 14 Elm St",
	})
	require.NoError(t, err)
	assert.Equal(t, "leadership_approval", assessment.RoutingDecision)
	assert.Contains(t, assessment.Reasoning, "foreclosure-review")
}

func TestAddRuleRejectedWhenValidationFails(t *testing.T) {
	provider := &fakeProvider{err: errors.New("service down")}
	engine := NewEngine(provider, nil)

	_, err := engine.AddRule(context.Background(), Rule{
		Name:        "x",
		Keyword:     "y",
		ForcedRoute: "supervisor_approval",
	})
	require.Error(t, err)
	assert.Empty(t, engine.Rules())
}

func TestAddRuleInputValidation(t *testing.T) {
	engine := NewEngine(&fakeProvider{}, nil)

	_, err := engine.AddRule(context.Background(), Rule{Keyword: "k", ForcedRoute: "advisor_approval"})
	assert.Error(t, err)

	_, err = engine.AddRule(context.Background(), Rule{Name: "n", ForcedRoute: "advisor_approval"})
	assert.Error(t, err)

	_, err = engine.AddRule(context.Background(), Rule{Name: "n", Keyword: "k", ForcedRoute: "instant"})
	assert.Error(t, err)
}

func TestAddRuleRejectsInvertedEffectiveWindow(t *testing.T) {
	engine := NewEngine(&fakeProvider{}, nil)

	_, err := engine.AddRule(context.Background(), Rule{
		Name:           "backdated",
		Keyword:        "escrow",
		ForcedRoute:    "supervisor_approval",
		EffectiveFrom:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EffectiveUntil: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "effective window")
}

func TestRuleOnlyAppliesInsideEffectiveWindow(t *testing.T) {
	provider := &fakeProvider{responses: []string{validResponse, validResponse, validResponse, validResponse}}
	engine := NewEngine(provider, nil)
	engine.now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }

	_, err := engine.AddRule(context.Background(), Rule{
		Name:           "year-end-freeze",
		Keyword:        "payoff",
		ForcedRoute:    "leadership_approval",
		EffectiveFrom:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EffectiveUntil: time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// Inside the window the rule forces leadership.
	assessment, err := engine.Evaluate(context.Background(), EvaluationInput{
		Action: "Issue payoff quote for loan 4411",
	})
	require.NoError(t, err)
	assert.Equal(t, "leadership_approval", assessment.RoutingDecision)

	// After the window expires the service's own decision stands.
	engine.now = func() time.Time { return time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC) }
	assessment, err = engine.Evaluate(context.Background(), EvaluationInput{
		Action: "Issue payoff quote for loan 4411",
	})
	require.NoError(t, err)
	assert.Equal(t, "supervisor_approval", assessment.RoutingDecision)

	// Before the window opens it does not apply either.
	engine.now = func() time.Time { return time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC) }
	assessment, err = engine.Evaluate(context.Background(), EvaluationInput{
		Action: "Issue payoff quote for loan 4411",
	})
	require.NoError(t, err)
	assert.Equal(t, "supervisor_approval", assessment.RoutingDecision)
}

func TestDeactivateRuleIsSoftFlag(t *testing.T) {
	provider := &fakeProvider{responses: []string{validResponse, validResponse}}
	recorder := &auditRecorder{}
	engine := NewEngine(provider, recorder)

	added, err := engine.AddRule(context.Background(), Rule{
		Name:        "foreclosure-review",
		Keyword:     "foreclose",
		ForcedRoute: "leadership_approval",
		AddedBy:     "compliance-1",
	})
	require.NoError(t, err)

	retired, err := engine.DeactivateRule(context.Background(), added.ID, "compliance-2")
	require.NoError(t, err)
	assert.False(t, retired.Active)
	assert.Equal(t, "compliance-2", retired.DeactivatedBy)
	require.NotNil(t, retired.DeactivatedAt)

	// The rule stays in the set but no longer forces escalation.
	rules := engine.Rules()
	require.Len(t, rules, 1)
	assert.False(t, rules[0].Active)

	assessment, err := engine.Evaluate(context.Background(), EvaluationInput{
		Action: "Foreclose on the property at 14 Elm St",
	})
	require.NoError(t, err)
	assert.Equal(t, "supervisor_approval", assessment.RoutingDecision)

	require.Len(t, recorder.events, 2)
	assert.Equal(t, audit.EventGovernanceRuleDeactivated, recorder.events[1].EventType)
	assert.Equal(t, "compliance-2", recorder.events[1].UserID)
}

func TestDeactivateRuleUnknownID(t *testing.T) {
	engine := NewEngine(&fakeProvider{}, nil)

	_, err := engine.DeactivateRule(context.Background(), "no-such-rule", "compliance-1")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestRuleDoesNotWeakenServiceDecision(t *testing.T) {
	// Service says leadership; a supervisor-level rule must not downgrade.
	leadership := `{
		"routing_decision": "leadership_approval",
		"risk_assessment": "critical",
		"reasoning": "litigation exposure",
		"confidence": 0.9
	}`
	provider := &fakeProvider{responses: []string{validResponse, leadership}}
	engine := NewEngine(provider, nil)

	_, err := engine.AddRule(context.Background(), Rule{
		Name:        "legal-review",
		Keyword:     "legal",
		ForcedRoute: "supervisor_approval",
	})
	require.NoError(t, err)

	assessment, err := engine.Evaluate(context.Background(), EvaluationInput{
		Action: "Refer account to legal counsel",
	})
	require.NoError(t, err)
	assert.Equal(t, "leadership_approval", assessment.RoutingDecision)
}
