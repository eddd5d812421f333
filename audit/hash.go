// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// hashTimeFormat fixes timestamp precision for hashing. Postgres stores
// microseconds, so hashing anything finer would break verification after a
// round trip through the database.
const hashTimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// ComputeIntegrityHash returns the SHA-256 of the event's canonical (RFC
// 8785) JSON form, excluding the hash fields themselves.
func ComputeIntegrityHash(e *Event) (string, error) {
	content := map[string]interface{}{
		"id":          e.ID,
		"event_type":  string(e.EventType),
		"action_id":   e.ActionID,
		"approval_id": e.ApprovalID,
		"user_id":     e.UserID,
		"timestamp":   e.Timestamp.UTC().Format(hashTimeFormat),
		"created_at":  e.CreatedAt.UTC().Format(hashTimeFormat),
		"details":     e.Details,
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event for hashing: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize event: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeChainHash links an event to its predecessor: SHA-256 over
// previousHash || integrityHash.
func ComputeChainHash(previousHash, integrityHash string) string {
	sum := sha256.Sum256([]byte(previousHash + integrityHash))
	return hex.EncodeToString(sum[:])
}

// truncateForStorage clamps a timestamp to the precision the database and
// the hash format both preserve.
func truncateForStorage(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
