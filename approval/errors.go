// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package approval

import "errors"

var (
	// ErrNotFound is returned when the request does not exist at all.
	ErrNotFound = errors.New("approval request not found")

	// ErrNotPending is returned when a transition is attempted on a request
	// that exists but is no longer pending. Distinct from ErrNotFound so a
	// lost race is distinguishable from a bad id.
	ErrNotPending = errors.New("approval request is not pending")

	// ErrMissingAction is returned when a submission names no action.
	ErrMissingAction = errors.New("action id is required")

	// ErrMissingSubmitter is returned when a submission names no submitter.
	ErrMissingSubmitter = errors.New("submitter is required")

	// ErrMissingApprover is returned when a decision names no approver.
	ErrMissingApprover = errors.New("approver is required")

	// ErrReasonRequired is returned when a rejection carries no reason.
	ErrReasonRequired = errors.New("rejection reason is required")

	// ErrInvalidExecutionStatus is returned for an unknown execution outcome.
	ErrInvalidExecutionStatus = errors.New("invalid execution status")
)
