// Package chainadapter defines the single boundary interface used for both
// Chain-A and Chain-B (spec §6 "ChainAdapter (both chains)"), modeled after
// the teacher's node/sc.BridgeManager: a per-chain manager that exposes
// event subscription (SubscribeTokenReceived/SubscribeTokenWithDraw),
// submission (deployBridge/handleBridgeEvent calling contract methods) and
// head/confirmation queries, generalized here behind one interface so the
// Transfer Pipeline and Finalization Engine can be written once and
// instantiated against either chain.
package chainadapter

import (
	"context"
	"time"
)

// ChainTag identifies which side of the bridge an Adapter serves.
type ChainTag string

const (
	ChainA ChainTag = "chain-a"
	ChainB ChainTag = "chain-b"
)

// EventKind enumerates the bridge-contract events an Adapter can surface,
// mirroring TokenReceivedEvent/TokenTransferEvent of bridge_manager.go.
type EventKind string

const (
	EventLock    EventKind = "lock"    // source-chain deposit lock
	EventRelease EventKind = "release" // target-chain release of a withdrawal
	EventBurn    EventKind = "burn"    // source-side burn (withdrawal leg)
	EventMint    EventKind = "mint"    // target-side mint (deposit leg)
)

// Event is a single bridge-contract log decoded into chain-agnostic fields.
type Event struct {
	Kind        EventKind
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
	Token       string
	From        string
	To          string
	Value       string
	Nonce       uint64
	Metadata    map[string]interface{}
}

// BlockHeader is the minimal per-block data the Finalization Engine needs
// to build a proposal (spec §4.3).
type BlockHeader struct {
	Number           uint64
	Hash             string
	ParentHash       string
	StateRoot        string
	TransactionsRoot string
	TransactionCount int
	Transactions     []Tx
}

// Tx is one transaction within a BlockHeader, enough to recompute a
// transactions root and answer an invalid_tx challenge.
type Tx struct {
	Index int
	Hash  string
	Raw   []byte
}

// ConfirmationResult reports how deep a submitted transaction is buried.
type ConfirmationResult struct {
	Confirmations uint64
	IncludedBlock uint64
	Reverted      bool
}

// Adapter is the boundary between the engine and one concrete chain
// (spec §6). Both the Chain-A and Chain-B adapters satisfy it; chain-specific
// behavior (ECDSA vs Ed25519 signing, EVM calldata vs non-EVM tx encoding)
// lives entirely behind the implementation.
type Adapter interface {
	Tag() ChainTag

	// Head returns the current canonical block number known to the chain.
	Head(ctx context.Context) (uint64, error)

	// FetchEvents returns bridge-contract events in the half-open block
	// range [from, to), used by the transfer ingestion pollers.
	FetchEvents(ctx context.Context, from, to uint64) ([]Event, error)

	// FetchBlock returns the header (and transaction set) for a given
	// block number, used by the Finalization Engine to build a proposal.
	FetchBlock(ctx context.Context, number uint64) (*BlockHeader, error)

	// SubmitLock locks value from holder on this chain as part of a
	// user-initiated deposit's source leg.
	SubmitLock(ctx context.Context, holder, token, value string) (txHash string, err error)

	// SubmitRelease releases previously locked value to recipient on this
	// chain as part of a deposit's target leg.
	SubmitRelease(ctx context.Context, recipient, token, value string, nonce uint64) (txHash string, err error)

	// SubmitMint mints target-side value as part of a deposit's target leg
	// (for mint/burn token models, as opposed to lock/release).
	SubmitMint(ctx context.Context, recipient, token, value string, nonce uint64) (txHash string, err error)

	// SubmitBurn burns source-side value as part of a withdrawal's source
	// leg.
	SubmitBurn(ctx context.Context, holder, token, value string, nonce uint64) (txHash string, err error)

	// AwaitConfirmation blocks (respecting ctx) until txHash reaches the
	// required confirmation depth or is observed reverted.
	AwaitConfirmation(ctx context.Context, txHash string, required uint64) (ConfirmationResult, error)

	// Confirmations reports the current confirmation depth of txHash
	// without blocking.
	Confirmations(ctx context.Context, txHash string) (ConfirmationResult, error)

	// IsSupported reports whether token is a recognized asset on this
	// chain side, independent of the TokenMap registry.
	IsSupported(ctx context.Context, token string) (bool, error)

	// Balance returns the bridge contract/escrow's current holdings of
	// token, used by Monitor health probes.
	Balance(ctx context.Context, token string) (string, error)

	// ProposeBlock submits a finalization proposal for the given header to
	// this chain (only meaningful on the chain receiving proposals, i.e.
	// typically Chain-A receiving Chain-B block roots).
	ProposeBlock(ctx context.Context, header *BlockHeader) (txHash string, err error)

	// FinalizeBlock submits the finalization transaction once the
	// challenge window has elapsed without a surviving challenge.
	FinalizeBlock(ctx context.Context, blockNumber uint64) (txHash string, err error)

	// FetchChallenges returns any challenges opened against blockNumber.
	FetchChallenges(ctx context.Context, blockNumber uint64) ([]Challenge, error)

	// CreateChallenge opens a fraud-proof challenge (used by tests and by
	// the operator surface's manual dispute path).
	CreateChallenge(ctx context.Context, blockNumber uint64, kind ChallengeKind, data []byte) (string, error)

	// CanonicalStateDescriptor returns the chain's definition of a state
	// root for blockNumber, used to verify an invalid_state_root challenge.
	CanonicalStateDescriptor(ctx context.Context, blockNumber uint64) (string, error)

	// VerifySignature checks sig over msgHash against principal's
	// registered key on this chain (ECDSA/keccak for an EVM chain,
	// Ed25519 for a non-EVM chain — spec §6 signature verification).
	VerifySignature(ctx context.Context, msgHash, sig, principal string) (bool, error)

	// Close releases any resources (RPC clients, subscriptions) held by
	// the adapter.
	Close() error
}

// Challenge mirrors model.Challenge but is the wire shape returned by an
// Adapter before the Finalization Engine maps it onto the durable model.
type Challenge struct {
	ID             string
	BlockNumber    uint64
	Kind           ChallengeKind
	TxIndex        int
	ExpectedTxHash string
	Data           []byte
	OpenedAt       time.Time
}

// ChallengeKind mirrors model.ChallengeKind; duplicated here so this
// package has no dependency on internal/model, keeping the adapter
// boundary importable standalone (spec §6 treats ChainAdapter as an
// external interface implemented outside the engine proper).
type ChallengeKind string

const (
	ChallengeInvalidStateRoot  ChallengeKind = "invalid_state_root"
	ChallengeInvalidTxRoot     ChallengeKind = "invalid_tx_root"
	ChallengeInvalidParentHash ChallengeKind = "invalid_parent_hash"
	ChallengeInvalidTx         ChallengeKind = "invalid_tx"
)
