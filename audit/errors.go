// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package audit

import "errors"

var (
	// ErrImmutableEvent is returned by any attempt to modify a stored event.
	// Audit records are immutable by contract.
	ErrImmutableEvent = errors.New("audit events are immutable")

	// ErrEventNotFound is returned when the requested event does not exist.
	ErrEventNotFound = errors.New("audit event not found")

	// ErrMissingEventType is returned when LogEvent is called without a type.
	ErrMissingEventType = errors.New("event type is required")

	// ErrMissingActor is returned when LogEvent is called without a user.
	ErrMissingActor = errors.New("actor user id is required")
)
