// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package override

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanguard/platform/audit"
)

type fakeRepository struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{records: map[string]*Record{}}
}

func (f *fakeRepository) Insert(_ context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *rec
	f.records[rec.ID] = &copied
	return nil
}

func (f *fakeRepository) Get(_ context.Context, id string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeRepository) ListByAction(_ context.Context, actionID string) ([]*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var records []*Record
	for _, rec := range f.records {
		if rec.ActionID == actionID {
			copied := *rec
			records = append(records, &copied)
		}
	}
	return records, nil
}

type auditRecorder struct {
	mu     sync.Mutex
	events []audit.Entry
}

func (r *auditRecorder) LogEvent(_ context.Context, entry audit.Entry) (*audit.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, entry)
	return &audit.Event{EventType: entry.EventType, ActionID: entry.ActionID}, nil
}

func (r *auditRecorder) Query(_ context.Context, filter audit.Filter) ([]*audit.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []*audit.Event
	for _, e := range r.events {
		if filter.ActionID != "" && e.ActionID != filter.ActionID {
			continue
		}
		events = append(events, &audit.Event{EventType: e.EventType, ActionID: e.ActionID})
	}
	return events, nil
}

func newTestManager(permissions map[string][]string) (*Manager, *fakeRepository, *auditRecorder) {
	repo := newFakeRepository()
	recorder := &auditRecorder{}
	return NewManager(repo, recorder, permissions), repo, recorder
}

func TestValidateOverridePermission(t *testing.T) {
	mgr, _, _ := newTestManager(map[string][]string{
		"director-1":   {PermissionAll},
		"supervisor-1": {EmergencyCustomerHarm},
	})

	assert.NoError(t, mgr.ValidateOverridePermission("director-1", EmergencyLegalAction))
	assert.NoError(t, mgr.ValidateOverridePermission("supervisor-1", EmergencyCustomerHarm))
	assert.ErrorIs(t, mgr.ValidateOverridePermission("supervisor-1", EmergencyLegalAction), ErrUnauthorized)
	assert.ErrorIs(t, mgr.ValidateOverridePermission("stranger", EmergencyCustomerHarm), ErrUnauthorized)
}

func TestExecuteOverrideSuccess(t *testing.T) {
	mgr, repo, recorder := newTestManager(map[string][]string{
		"director-1": {PermissionAll},
	})

	before := time.Now().UTC()
	rec, err := mgr.ExecuteOverride(context.Background(), ExecuteRequest{
		ActionID:      "action-1",
		UserID:        "director-1",
		EmergencyType: EmergencyRegulatoryDeadline,
		Justification: "RESPA response deadline is tomorrow",
		BypassedLevel: "supervisor",
	})
	require.NoError(t, err)

	assert.Equal(t, "high", rec.Impact.RiskLevel)
	assert.True(t, rec.Impact.FollowUpRequired)
	assert.Equal(t, defaultStakeholders, rec.Impact.NotifyStakeholders)
	assert.WithinDuration(t, before.Add(followUpWindow), rec.Impact.FollowUpDeadline, 5*time.Second)

	stored, err := repo.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "director-1", stored.ExecutedBy)

	// Exactly three events in order.
	require.Len(t, recorder.events, 3)
	assert.Equal(t, audit.EventOverrideInitiated, recorder.events[0].EventType)
	assert.Equal(t, audit.EventOverrideExecuted, recorder.events[1].EventType)
	assert.Equal(t, audit.EventOverrideCompleted, recorder.events[2].EventType)
	assert.Equal(t, "high", recorder.events[1].Details["risk_level"])
}

func TestExecuteOverrideUnauthorizedHasNoSideEffects(t *testing.T) {
	mgr, repo, recorder := newTestManager(map[string][]string{
		"supervisor-1": {EmergencyCustomerHarm},
	})

	_, err := mgr.ExecuteOverride(context.Background(), ExecuteRequest{
		ActionID:      "action-1",
		UserID:        "supervisor-1",
		EmergencyType: EmergencyLegalAction,
		Justification: "litigation hold",
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Empty(t, recorder.events)
	assert.Empty(t, repo.records)
}

func TestExecuteOverrideValidation(t *testing.T) {
	mgr, repo, recorder := newTestManager(map[string][]string{
		"director-1": {PermissionAll},
	})

	tests := []struct {
		name string
		req  ExecuteRequest
		want error
	}{
		{
			name: "missing action",
			req: ExecuteRequest{
				UserID: "director-1", EmergencyType: EmergencyCustomerHarm, Justification: "x",
			},
			want: ErrMissingAction,
		},
		{
			name: "unknown emergency type",
			req: ExecuteRequest{
				ActionID: "a", UserID: "director-1", EmergencyType: "vibes", Justification: "x",
			},
			want: ErrUnknownEmergencyType,
		},
		{
			name: "missing justification",
			req: ExecuteRequest{
				ActionID: "a", UserID: "director-1", EmergencyType: EmergencyCustomerHarm,
				Justification: "   ",
			},
			want: ErrJustificationRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.ExecuteOverride(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, recorder.events)
	assert.Empty(t, repo.records)
}

func TestGetRelatedAuditEvents(t *testing.T) {
	mgr, _, recorder := newTestManager(map[string][]string{
		"director-1": {PermissionAll},
	})

	// Prior governance history for the same action.
	_, err := recorder.LogEvent(context.Background(), audit.Entry{
		EventType: audit.EventApprovalSubmitted, ActionID: "action-1", UserID: "advisor-1",
	})
	require.NoError(t, err)

	rec, err := mgr.ExecuteOverride(context.Background(), ExecuteRequest{
		ActionID:      "action-1",
		UserID:        "director-1",
		EmergencyType: EmergencySystemFailure,
		Justification: "payment system outage blocked the approval queue",
	})
	require.NoError(t, err)

	events, err := mgr.GetRelatedAuditEvents(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, audit.EventApprovalSubmitted, events[0].EventType)
	assert.Equal(t, audit.EventOverrideCompleted, events[3].EventType)
}

func TestGetRelatedAuditEventsUnknownOverride(t *testing.T) {
	mgr, _, _ := newTestManager(nil)

	_, err := mgr.GetRelatedAuditEvents(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
