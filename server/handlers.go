// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"loanguard/platform/approval"
	"loanguard/platform/audit"
	"loanguard/platform/governance"
	"loanguard/platform/override"
	"loanguard/platform/plan"
)

// --- plan evaluation ---

type evaluatePlanRequest struct {
	Plan    plan.ActionPlan `json:"plan"`
	Context plan.Context    `json:"context"`
}

func (s *Server) handleEvaluatePlan(w http.ResponseWriter, r *http.Request) {
	var req evaluatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Plan.TotalActions() == 0 {
		writeError(w, http.StatusBadRequest, errors.New("plan contains no actions"))
		return
	}

	decision := s.agent.EvaluatePlan(&req.Plan, req.Context)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decision": decision,
		"plan":     req.Plan,
	})
}

// --- approvals ---

func (s *Server) handleSubmitApproval(w http.ResponseWriter, r *http.Request) {
	var req approval.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	created, err := s.workflow.Submit(r.Context(), req)
	if err != nil {
		writeError(w, approvalErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	req, err := s.workflow.Get(r.Context(), id)
	if err != nil {
		writeError(w, approvalErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type decideRequest struct {
	Approver      string   `json:"approver"`
	Notes         string   `json:"notes,omitempty"`
	ConditionsMet []string `json:"conditions_met,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	Feedback      string   `json:"feedback,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	approved, err := s.workflow.Approve(r.Context(), id, req.Approver, req.Notes, req.ConditionsMet)
	if err != nil {
		writeError(w, approvalErrorStatus(err), err)
		return
	}
	promApprovalDecisions.WithLabelValues(string(approved.Status)).Inc()
	writeJSON(w, http.StatusOK, approved)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	rejected, err := s.workflow.Reject(r.Context(), id, req.Approver, req.Reason, req.Feedback)
	if err != nil {
		writeError(w, approvalErrorStatus(err), err)
		return
	}
	promApprovalDecisions.WithLabelValues(string(rejected.Status)).Inc()
	writeJSON(w, http.StatusOK, rejected)
}

type bulkApproveRequest struct {
	IDs      []string `json:"ids"`
	Approver string   `json:"approver"`
	Notes    string   `json:"notes,omitempty"`
}

func (s *Server) handleBulkApprove(w http.ResponseWriter, r *http.Request) {
	var req bulkApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("ids list is empty"))
		return
	}

	result, err := s.workflow.BulkApprove(r.Context(), req.IDs, req.Approver, req.Notes)
	if err != nil {
		writeError(w, approvalErrorStatus(err), err)
		return
	}
	promApprovalDecisions.WithLabelValues("bulk_approved").Add(float64(result.ApprovedCount))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleApprovalQueue(w http.ResponseWriter, r *http.Request) {
	filter := approval.QueueFilter{
		RoutedTo: approval.Authority(r.URL.Query().Get("routed_to")),
		Status:   approval.Status(r.URL.Query().Get("status")),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", limitStr))
			return
		}
		filter.Limit = limit
	}

	queue, err := s.workflow.GetApprovalQueue(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": queue,
		"count":    len(queue),
	})
}

func (s *Server) handleRecordExecution(w http.ResponseWriter, r *http.Request) {
	var result plan.ExecutionResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	updated, err := s.workflow.RecordExecutionResult(r.Context(), result)
	if err != nil {
		writeError(w, approvalErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func approvalErrorStatus(err error) int {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrNotPending):
		return http.StatusConflict
	case errors.Is(err, approval.ErrMissingAction),
		errors.Is(err, approval.ErrMissingSubmitter),
		errors.Is(err, approval.ErrMissingApprover),
		errors.Is(err, approval.ErrReasonRequired),
		errors.Is(err, approval.ErrInvalidExecutionStatus):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// --- audit ---

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		UserID:    q.Get("user_id"),
		EventType: audit.EventType(q.Get("event_type")),
		ActionID:  q.Get("action_id"),
	}
	if startStr := q.Get("start"); startStr != "" {
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid start time: %s", startStr))
			return
		}
		filter.Start = start
	}
	if endStr := q.Get("end"); endStr != "" {
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid end time: %s", endStr))
			return
		}
		filter.End = end
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", limitStr))
			return
		}
		filter.Limit = limit
	}

	events, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) handleVerifyEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	valid, err := s.auditor.VerifyIntegrity(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, audit.ErrEventNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id": id,
		"valid":    valid,
	})
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	report, err := s.auditor.VerifyChainIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	end := time.Now().UTC()
	start := end.AddDate(0, -1, 0)
	var err error
	if startStr := q.Get("start"); startStr != "" {
		if start, err = time.Parse(time.RFC3339, startStr); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid start time: %s", startStr))
			return
		}
	}
	if endStr := q.Get("end"); endStr != "" {
		if end, err = time.Parse(time.RFC3339, endStr); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid end time: %s", endStr))
			return
		}
	}

	report, err := s.auditor.GenerateComplianceReport(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- overrides ---

func (s *Server) handleExecuteOverride(w http.ResponseWriter, r *http.Request) {
	var req override.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	// The authenticated identity is the executor; the body cannot claim
	// someone else's permissions.
	req.UserID = userIDFrom(r.Context())

	rec, err := s.overrides.ExecuteOverride(r.Context(), req)
	if err != nil {
		writeError(w, overrideErrorStatus(err), err)
		return
	}
	promOverrides.Inc()
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleOverrideEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	events, err := s.overrides.GetRelatedAuditEvents(r.Context(), id)
	if err != nil {
		writeError(w, overrideErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"override_id": id,
		"events":      events,
		"count":       len(events),
	})
}

func overrideErrorStatus(err error) int {
	switch {
	case errors.Is(err, override.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, override.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, override.ErrUnknownEmergencyType),
		errors.Is(err, override.ErrJustificationRequired),
		errors.Is(err, override.ErrMissingAction):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// --- governance ---

func (s *Server) handleGovernanceEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("qualitative evaluation is not configured"))
		return
	}

	var input governance.EvaluationInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	assessment, err := s.engine.Evaluate(r.Context(), input)
	if err != nil {
		// External-dependency failures propagate verbatim.
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("qualitative evaluation is not configured"))
		return
	}

	var rule governance.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	added, err := s.engine.AddRule(r.Context(), rule)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("qualitative evaluation is not configured"))
		return
	}

	id := mux.Vars(r)["id"]
	retired, err := s.engine.DeactivateRule(r.Context(), id, userIDFrom(r.Context()))
	if err != nil {
		if errors.Is(err, governance.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, retired)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("qualitative evaluation is not configured"))
		return
	}

	rules := s.engine.Rules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}
