// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"loanguard/platform/audit"
	"loanguard/platform/plan"
)

// AuditLogger records governance events. Satisfied by *audit.Logger.
type AuditLogger interface {
	LogEvent(ctx context.Context, entry audit.Entry) (*audit.Event, error)
}

// Workflow is the approval service: it owns routing, decisions, bulk
// operations, escalation scans, and the audit events they emit.
type Workflow struct {
	repo  Repository
	audit AuditLogger
	now   func() time.Time
}

// NewWorkflow creates the approval workflow service.
func NewWorkflow(repo Repository, auditLogger AuditLogger) *Workflow {
	return &Workflow{
		repo:  repo,
		audit: auditLogger,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// financialKeywords routes money-moving requests to supervisor review even
// when the submitter marks them low urgency.
var financialKeywords = []string{
	"refund", "payment", "fee", "waive", "escrow", "disburse", "credit", "payoff",
}

// routeFor picks the initial approval authority for a submission.
func routeFor(req SubmitRequest) Authority {
	if req.Urgency == UrgencyCritical {
		return AuthorityLeadership
	}
	text := strings.ToLower(req.ActionText)
	for _, kw := range financialKeywords {
		if strings.Contains(text, kw) {
			return AuthoritySupervisor
		}
	}
	if req.Urgency == UrgencyHigh {
		return AuthoritySupervisor
	}
	return AuthorityAdvisor
}

// Submit creates a pending approval request, routes it, and records an
// approval_submitted audit event.
func (w *Workflow) Submit(ctx context.Context, req SubmitRequest) (*Request, error) {
	if req.ActionID == "" {
		return nil, ErrMissingAction
	}
	if req.SubmittedBy == "" {
		return nil, ErrMissingSubmitter
	}

	urgency := req.Urgency
	if urgency == "" {
		urgency = UrgencyMedium
	}
	timeoutHours := req.TimeoutHours
	if timeoutHours <= 0 {
		timeoutHours = DefaultTimeoutHours(urgency)
	}

	now := w.now()
	request := &Request{
		ID:           uuid.New().String(),
		ActionID:     req.ActionID,
		ActionText:   req.ActionText,
		SubmittedBy:  req.SubmittedBy,
		SubmittedAt:  now,
		Status:       StatusPendingApproval,
		RoutedTo:     routeFor(req),
		Urgency:      urgency,
		TimeoutHours: timeoutHours,
		Deadline:     now.Add(time.Duration(timeoutHours * float64(time.Hour))),
		Conditions:   req.Conditions,
	}

	if err := w.repo.Insert(ctx, request); err != nil {
		return nil, err
	}

	err := w.logEvent(ctx, audit.Entry{
		EventType:  audit.EventApprovalSubmitted,
		ActionID:   request.ActionID,
		ApprovalID: request.ID,
		UserID:     request.SubmittedBy,
		Details: map[string]interface{}{
			"routed_to":     string(request.RoutedTo),
			"urgency":       request.Urgency,
			"timeout_hours": request.TimeoutHours,
			"deadline":      request.Deadline.Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[APPROVAL] Submitted request %s for action %s, routed to %s",
		request.ID, request.ActionID, request.RoutedTo)
	return request, nil
}

// Approve decides a pending request. When conditions are attached the
// terminal status is approved_with_conditions.
func (w *Workflow) Approve(ctx context.Context, id, approver, notes string, conditionsMet []string) (*Request, error) {
	req, err := w.approve(ctx, id, approver, notes, conditionsMet)
	if err != nil {
		return nil, err
	}

	err = w.logEvent(ctx, audit.Entry{
		EventType:  audit.EventApprovalApproved,
		ActionID:   req.ActionID,
		ApprovalID: req.ID,
		UserID:     approver,
		Details: map[string]interface{}{
			"status":         string(req.Status),
			"notes":          notes,
			"conditions_met": conditionsMet,
		},
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[APPROVAL] Request %s approved by %s (%s)", req.ID, approver, req.Status)
	return req, nil
}

// approve is the decision core shared by Approve and BulkApprove. It emits
// no audit events so bulk batches can summarize instead.
func (w *Workflow) approve(ctx context.Context, id, approver, notes string, conditionsMet []string) (*Request, error) {
	if approver == "" {
		return nil, ErrMissingApprover
	}

	status := StatusApproved
	if len(conditionsMet) > 0 {
		status = StatusApprovedWithConditions
	}

	return w.repo.Decide(ctx, id, Decision{
		Status:        status,
		DecidedBy:     approver,
		DecidedAt:     w.now(),
		Notes:         notes,
		ConditionsMet: conditionsMet,
	})
}

// Reject decides a pending request negatively. A reason is mandatory.
func (w *Workflow) Reject(ctx context.Context, id, approver, reason, feedback string) (*Request, error) {
	if approver == "" {
		return nil, ErrMissingApprover
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}

	req, err := w.repo.Decide(ctx, id, Decision{
		Status:    StatusRejected,
		DecidedBy: approver,
		DecidedAt: w.now(),
		Reason:    reason,
		Feedback:  feedback,
	})
	if err != nil {
		return nil, err
	}

	err = w.logEvent(ctx, audit.Entry{
		EventType:  audit.EventApprovalRejected,
		ActionID:   req.ActionID,
		ApprovalID: req.ID,
		UserID:     approver,
		Details: map[string]interface{}{
			"reason":   reason,
			"feedback": feedback,
		},
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[APPROVAL] Request %s rejected by %s: %s", req.ID, approver, reason)
	return req, nil
}

// BulkApprove decides each request independently: one bad id does not sink
// the batch. It emits a single bulk_approval summary event rather than one
// event per item.
func (w *Workflow) BulkApprove(ctx context.Context, ids []string, approver, notes string) (*BulkResult, error) {
	if approver == "" {
		return nil, ErrMissingApprover
	}

	result := &BulkResult{Failures: map[string]string{}}
	var approvedActions []string

	for _, id := range ids {
		req, err := w.approve(ctx, id, approver, notes, nil)
		if err != nil {
			result.FailedCount++
			result.Failures[id] = err.Error()
			continue
		}
		result.ApprovedCount++
		approvedActions = append(approvedActions, req.ActionID)
	}

	err := w.logEvent(ctx, audit.Entry{
		EventType: audit.EventBulkApproval,
		UserID:    approver,
		Details: map[string]interface{}{
			"requested_count": len(ids),
			"approved_count":  result.ApprovedCount,
			"failed_count":    result.FailedCount,
			"failures":        result.Failures,
			"action_ids":      approvedActions,
			"notes":           notes,
		},
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[APPROVAL] Bulk approval by %s: %d approved, %d failed",
		approver, result.ApprovedCount, result.FailedCount)
	return result, nil
}

// CheckAndEscalateTimeouts scans for pending requests past their deadline
// and advances each exactly one authority level. Requests already escalated
// are skipped, so repeated scans are idempotent.
func (w *Workflow) CheckAndEscalateTimeouts(ctx context.Context) (int, error) {
	now := w.now()
	expired, err := w.repo.ListPendingExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("escalation scan failed: %w", err)
	}

	escalated := 0
	for _, req := range expired {
		next, ok := NextAuthority(req.RoutedTo)
		if !ok {
			// Top of the chain: nothing above executive to escalate to.
			log.Printf("[APPROVAL] Request %s expired at top authority %s, leaving in queue",
				req.ID, req.RoutedTo)
			continue
		}

		claimed, err := w.repo.Escalate(ctx, req.ID, next, now)
		if err != nil {
			return escalated, err
		}
		if !claimed {
			continue
		}
		escalated++

		err = w.logEvent(ctx, audit.Entry{
			EventType:  audit.EventApprovalEscalated,
			ActionID:   req.ActionID,
			ApprovalID: req.ID,
			UserID:     "system",
			Details: map[string]interface{}{
				"from":     string(req.RoutedTo),
				"to":       string(next),
				"deadline": req.Deadline.Format(time.RFC3339),
			},
		})
		if err != nil {
			return escalated, err
		}

		log.Printf("[APPROVAL] Request %s escalated %s -> %s after timeout",
			req.ID, req.RoutedTo, next)
	}

	return escalated, nil
}

// GetApprovalQueue lists requests matching the filter, oldest first.
func (w *Workflow) GetApprovalQueue(ctx context.Context, filter QueueFilter) ([]*Request, error) {
	return w.repo.Queue(ctx, filter)
}

// Get returns a single request by id.
func (w *Workflow) Get(ctx context.Context, id string) (*Request, error) {
	return w.repo.Get(ctx, id)
}

// RecordExecutionResult stores the downstream execution outcome for an
// approved action and records an action_executed event.
func (w *Workflow) RecordExecutionResult(ctx context.Context, result plan.ExecutionResult) (*Request, error) {
	if !plan.ValidExecutionStatus(result.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidExecutionStatus, result.Status)
	}
	if result.CompletedAt.IsZero() {
		result.CompletedAt = w.now()
	}

	req, err := w.repo.RecordExecution(ctx, result.ActionID, result)
	if err != nil {
		return nil, err
	}

	err = w.logEvent(ctx, audit.Entry{
		EventType:  audit.EventActionExecuted,
		ActionID:   result.ActionID,
		ApprovalID: req.ID,
		UserID:     result.ExecutedBy,
		Details: map[string]interface{}{
			"status":       result.Status,
			"completed_at": result.CompletedAt.Format(time.RFC3339),
			"detail":       result.Detail,
		},
	})
	if err != nil {
		return nil, err
	}

	return req, nil
}

// logEvent records an audit event. Failures propagate: a governance
// transition the audit trail cannot record is a failed operation.
func (w *Workflow) logEvent(ctx context.Context, entry audit.Entry) error {
	if w.audit == nil {
		return nil
	}
	if _, err := w.audit.LogEvent(ctx, entry); err != nil {
		return fmt.Errorf("failed to record audit event %s: %w", entry.EventType, err)
	}
	return nil
}
