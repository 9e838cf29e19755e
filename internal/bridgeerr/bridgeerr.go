// Package bridgeerr declares the error taxonomy of spec §7 as sentinel
// values, plus a Kind helper that projects a wrapped error onto its short
// taxonomy string for user-facing status endpoints while audit logs keep
// the full wrapped context.
package bridgeerr

import "errors"

var (
	// Admission failures (§4.2) — synchronous rejection, no Transfer row
	// created, or created and marked FAILED with the kind recorded.
	ErrUnsupportedToken = errors.New("unsupported_token")
	ErrInvalidRecipient = errors.New("invalid_recipient")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrBlocklisted      = errors.New("blocklisted")
	ErrRateLimited      = errors.New("rate_limited")
	ErrValueExceedsCap  = errors.New("value_exceeds_cap")
	ErrEmergencyHalt    = errors.New("emergency_halt")

	// Transient, retried under §4.1 policy.
	ErrAdapterError = errors.New("adapter_error")

	// Per-Transfer fatal unless config changes.
	ErrTokenMapMissing          = errors.New("token_map_missing")
	ErrAssociatedAccountFailure = errors.New("associated_account_failure")

	// Safety incidents — never silently swallowed.
	ErrDoubleSpendAttempt     = errors.New("double_spend_attempt")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrSuspiciousTransaction  = errors.New("suspicious_transaction")
	ErrLargeTransaction       = errors.New("large_transaction")

	// Finalization.
	ErrChallengeLost = errors.New("challenge_lost")

	// Programming error: fail-fast and surface to the operator.
	ErrInternalInvariant = errors.New("internal_invariant")

	// Store/adapter plumbing, not part of the taxonomy but needed by callers.
	ErrNotFound       = errors.New("not_found")
	ErrAlreadyExists  = errors.New("already_exists")
	ErrConflict       = errors.New("conflict")
)

var taxonomy = []error{
	ErrUnsupportedToken, ErrInvalidRecipient, ErrInvalidSignature, ErrBlocklisted,
	ErrRateLimited, ErrValueExceedsCap, ErrEmergencyHalt, ErrAdapterError,
	ErrTokenMapMissing, ErrAssociatedAccountFailure, ErrDoubleSpendAttempt,
	ErrInvalidStateTransition, ErrSuspiciousTransaction, ErrLargeTransaction,
	ErrChallengeLost, ErrInternalInvariant,
}

// Kind projects err onto its taxonomy string, or "" if err does not wrap a
// known taxonomy sentinel.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, sentinel := range taxonomy {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}
