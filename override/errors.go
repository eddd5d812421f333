// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package override

import "errors"

var (
	// ErrUnauthorized is returned when the user's permission set covers
	// neither "all" nor the requested emergency type.
	ErrUnauthorized = errors.New("user is not authorized for this override")

	// ErrUnknownEmergencyType is returned for an unrecognized emergency tag.
	ErrUnknownEmergencyType = errors.New("unknown emergency type")

	// ErrJustificationRequired is returned when an override carries no
	// justification text.
	ErrJustificationRequired = errors.New("override justification is required")

	// ErrMissingAction is returned when an override names no action.
	ErrMissingAction = errors.New("action id is required")

	// ErrRecordNotFound is returned when no override record exists.
	ErrRecordNotFound = errors.New("override record not found")
)
