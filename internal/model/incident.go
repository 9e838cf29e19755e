package model

import "time"

// IncidentKind enumerates the safety-relevant taxonomy entries of spec §7
// that are recorded as durable Incidents, plus a few operational kinds
// raised outside the fraud sweep (blocklisted_address, emergency halts).
type IncidentKind string

const (
	IncidentDoubleSpendAttempt     IncidentKind = "double_spend_attempt"
	IncidentInvalidStateTransition IncidentKind = "invalid_state_transition"
	IncidentSuspiciousTransaction  IncidentKind = "suspicious_transaction"
	IncidentLargeTransaction       IncidentKind = "large_transaction"
	IncidentBlocklistedAddress     IncidentKind = "blocklisted_address"
	IncidentInvalidSignature       IncidentKind = "invalid_signature"
	IncidentChallengeLost          IncidentKind = "challenge_lost"
	IncidentEmergencyHalt          IncidentKind = "emergency_halt"
	IncidentInternalInvariant      IncidentKind = "internal_invariant"
)

// Incident is a security event raised by any component via the Safety
// Controller (spec §3).
type Incident struct {
	ID          string
	Kind        IncidentKind
	Description string
	Source      string
	Data        map[string]interface{}
	CreatedAt   time.Time
	Resolved    bool
	Resolver    string
	ResolutionNote string
}

// RateLimitBucket is the sliding-window counter keyed by (principal,
// action) described in spec §4.2.
type RateLimitBucket struct {
	Principal    string
	Action       string
	Count        int
	WindowStart  time.Time
	BlockedUntil time.Time
}
