package model

import "time"

// FinalizationState is a node of the optimistic finalization state machine
// (spec §4.3).
type FinalizationState string

const (
	FinalizationProposed    FinalizationState = "PROPOSED"
	FinalizationChallenged  FinalizationState = "CHALLENGED"
	FinalizationFinalized   FinalizationState = "FINALIZED"
	FinalizationInvalidated FinalizationState = "INVALIDATED"
)

// Finalization is one row per Chain-B block proposed to Chain-A (spec §3).
type Finalization struct {
	BlockNumber      uint64
	BlockHash        string
	ParentHash       string
	StateRoot        string
	TransactionsRoot string
	TransactionCount int
	Proposer         string

	ProposeTime              time.Time
	ExpectedFinalizationTime time.Time

	State FinalizationState

	ChallengeID         string
	FinalizationTxHash  string
	FinalizationTime    *time.Time
	Error               string
}

// ChallengeKind enumerates the fraud-proof challenge kinds of spec §4.3.
type ChallengeKind string

const (
	ChallengeInvalidStateRoot  ChallengeKind = "invalid_state_root"
	ChallengeInvalidTxRoot     ChallengeKind = "invalid_tx_root"
	ChallengeInvalidParentHash ChallengeKind = "invalid_parent_hash"
	ChallengeInvalidTx         ChallengeKind = "invalid_tx"
)

// Challenge is a dispute opened against a Finalization, as returned by the
// ChainAdapter's FetchChallenges (spec §6).
type Challenge struct {
	ID          string
	BlockNumber uint64
	Kind        ChallengeKind

	// TxIndex and ExpectedTxHash apply only to ChallengeInvalidTx.
	TxIndex        int
	ExpectedTxHash string

	Data []byte
}
