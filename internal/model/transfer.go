// Package model defines the durable data model of spec §3: Transfer,
// TokenMap, Finalization, Incident, RateLimitBucket and the append-only
// transition journal backing fraud detection (spec §9, Open Question 3).
package model

import "time"

// Direction distinguishes a Chain-A -> Chain-B deposit from a Chain-B ->
// Chain-A withdrawal.
type Direction string

const (
	DirectionDeposit    Direction = "deposit"
	DirectionWithdrawal Direction = "withdrawal"
)

// TransferStatus is a node of the state machine in spec §4.1.
type TransferStatus string

const (
	StatusPending    TransferStatus = "PENDING"
	StatusProcessing TransferStatus = "PROCESSING"
	StatusConfirming TransferStatus = "CONFIRMING"
	StatusFinalizing TransferStatus = "FINALIZING"
	StatusCompleted  TransferStatus = "COMPLETED"
	StatusFailed     TransferStatus = "FAILED"
)

// validEdges enumerates the legal state transitions of spec §4.1. Any edge
// not present here is an invalid_state_transition (spec §7, §9 OQ3).
var validEdges = map[TransferStatus]map[TransferStatus]bool{
	StatusPending:    {StatusProcessing: true},
	StatusProcessing: {StatusConfirming: true, StatusFailed: true, StatusCompleted: true},
	StatusConfirming: {StatusFinalizing: true, StatusFailed: true, StatusCompleted: true},
	StatusFinalizing: {StatusCompleted: true, StatusFailed: true},
	StatusFailed:     {StatusPending: true},
	StatusCompleted:  {},
}

// IsValidTransition reports whether from -> to is a legal edge of the
// transfer state machine.
func IsValidTransition(from, to TransferStatus) bool {
	edges, ok := validEdges[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Transfer is one row per cross-chain value movement (spec §3).
type Transfer struct {
	ID        string
	Direction Direction
	Status    TransferStatus

	SourceChain         string
	SourceAddress       string
	SourceToken         string
	SourceTxHash        string
	SourceBlockNumber   uint64
	SourceConfirmations uint64

	TargetChain       string
	TargetAddress     string
	TargetToken       string
	TargetTxHash      string
	TargetBlockNumber uint64

	// Value is a non-negative base-10 integer string in the source token's
	// smallest unit.
	Value string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	// AttestationHash is optional (spec §9 OQ2): some withdrawal/deposit
	// paths carry a bridge-attestation identifier, others don't. No default
	// is invented here; the adapter decides whether to populate it.
	AttestationHash *string

	LastError     string
	RetryCount    int
	NextRetryTime *time.Time

	// Metadata carries opaque source-event fields (spec §3).
	Metadata map[string]interface{}
}

// TransitionJournalEntry is one append-only record of a Transfer state
// change (spec §9 Design Notes: "every state transition must be journaled").
type TransitionJournalEntry struct {
	ID         int64
	TransferID string
	From       TransferStatus
	To         TransferStatus
	At         time.Time
}
