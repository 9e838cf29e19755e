// Package store defines the durable persistence boundary of spec §6,
// modeled after the teacher's storage/database.DBManager: one broad
// interface with several interchangeable backends selected by DBType
// (storage/database/db_manager.go DBConfig.getDatabase's LevelDB/BadgerDB/
// MemoryDB switch).
package store

import (
	"context"
	"errors"

	"github.com/chainbridge-x/engine/internal/model"
)

// ErrConflict is returned by a conditional update whose expected-status
// precondition no longer holds (spec §4.1 "UPDATE ... WHERE id=? AND
// status=expected").
var ErrConflict = errors.New("store: conditional update conflict")

// ErrNotFound is returned when a lookup by primary key misses.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists is returned by a uniqueness-constrained insert whose
// key already exists (spec §8 uniqueness invariant on source_tx_hash).
var ErrAlreadyExists = errors.New("store: already exists")

// TransferFilter narrows ListTransfers (used by the operator surface and
// the worker pool's FIFO pull).
type TransferFilter struct {
	Direction *model.Direction
	Status    *model.TransferStatus
	Limit     int
	Offset    int
}

// Store is the persistence boundary used by every component (spec §6).
// It is intentionally broad, mirroring DBManager's single-interface,
// many-concerns shape rather than the narrower repository-per-aggregate
// style, since the engine's components share one transactional backend.
type Store interface {
	// Transfer

	CreateTransfer(ctx context.Context, t *model.Transfer) error
	GetTransfer(ctx context.Context, id string) (*model.Transfer, error)
	GetTransferBySourceTxHash(ctx context.Context, sourceTxHash string) (*model.Transfer, error)
	// UpdateTransferStatus performs the conditional "WHERE id=? AND
	// status=expected" update of spec §4.1, appending a journal entry
	// atomically with the status change. Returns ErrConflict if expected
	// no longer matches.
	UpdateTransferStatus(ctx context.Context, id string, expected, next model.TransferStatus, mutate func(*model.Transfer)) error
	// ListPendingTransfers returns up to limit PENDING transfers of the
	// given direction whose NextRetryTime, if set, has passed, oldest first
	// (spec §4.1 FIFO ordering). FAILED rows are not returned.
	ListPendingTransfers(ctx context.Context, direction model.Direction, limit int) ([]*model.Transfer, error)
	// ListStuckTransfers returns PROCESSING, CONFIRMING or FINALIZING
	// transfers last updated before olderThan, for the stuck-transfer reclaim sweep (spec §4.1).
	ListStuckTransfers(ctx context.Context, olderThanUnixMs int64, limit int) ([]*model.Transfer, error)
	ListTransfers(ctx context.Context, f TransferFilter) ([]*model.Transfer, error)
	AppendTransitionJournal(ctx context.Context, e *model.TransitionJournalEntry) error
	ReadTransitionJournal(ctx context.Context, transferID string) ([]*model.TransitionJournalEntry, error)
	ReadAllTransitionJournal(ctx context.Context, sinceUnixMs int64, limit int) ([]*model.TransitionJournalEntry, error)

	// Ingestion checkpoints (spec §4.1 "last_scanned" per direction).

	GetLastScanned(ctx context.Context, direction model.Direction) (uint64, bool, error)
	SetLastScanned(ctx context.Context, direction model.Direction, blockNumber uint64) error

	// TokenMap

	CreateTokenMap(ctx context.Context, tm *model.TokenMap) error
	GetTokenMap(ctx context.Context, sourceToken string) (*model.TokenMap, error)
	ListTokenMaps(ctx context.Context) ([]*model.TokenMap, error)
	// IncrementTokenMapTotals atomically bumps running totals (spec §3
	// "statistics columns" are the only post-creation mutable fields).
	IncrementTokenMapTotals(ctx context.Context, sourceToken string, direction model.Direction, value string) error
	ResetDailyTotals(ctx context.Context, sourceToken string, resetAt interface{}) error

	// Finalization

	// CreateFinalization is idempotent on BlockNumber (spec §4.3 re-propose
	// of an already-proposed block is a no-op).
	CreateFinalization(ctx context.Context, f *model.Finalization) (created bool, err error)
	GetFinalization(ctx context.Context, blockNumber uint64) (*model.Finalization, error)
	UpdateFinalizationState(ctx context.Context, blockNumber uint64, expected, next model.FinalizationState, mutate func(*model.Finalization)) error
	ListFinalizationsByState(ctx context.Context, state model.FinalizationState, limit int) ([]*model.Finalization, error)
	// ListProposedBefore returns PROPOSED finalizations whose
	// ExpectedFinalizationTime has elapsed, for the restart rescan (spec
	// §4.3).
	ListProposedBefore(ctx context.Context, unixMs int64, limit int) ([]*model.Finalization, error)
	// GetLastProposed/SetLastProposed persist the proposer's monotonic
	// high-water mark (spec §4.3 "from = last_proposed + 1", §5 "advances
	// only after all rows in the batch are persisted"), independent of
	// which finalization rows have since resolved to FINALIZED.
	GetLastProposed(ctx context.Context) (uint64, bool, error)
	SetLastProposed(ctx context.Context, blockNumber uint64) error

	// Incident

	CreateIncident(ctx context.Context, inc *model.Incident) error
	CountUnresolvedIncidents(ctx context.Context) (int, error)
	ListIncidents(ctx context.Context, onlyUnresolved bool, limit int) ([]*model.Incident, error)
	ResolveIncident(ctx context.Context, id, resolver, note string) error

	// RateLimitBucket

	GetRateLimitBucket(ctx context.Context, principal, action string) (*model.RateLimitBucket, bool, error)
	SaveRateLimitBucket(ctx context.Context, b *model.RateLimitBucket) error
	GCRateLimitBuckets(ctx context.Context, olderThanUnixMs int64) (int, error)

	// Emergency halt (spec §4.2)

	GetEmergencyHalt(ctx context.Context) (halted bool, reason string, err error)
	SetEmergencyHalt(ctx context.Context, halted bool, reason string) error

	// Allow/block lists (spec §4.2)

	IsAllowlisted(ctx context.Context, principal string) (bool, error)
	IsBlocklisted(ctx context.Context, principal string) (bool, error)
	AddToAllowlist(ctx context.Context, principal string) error
	AddToBlocklist(ctx context.Context, principal string) error
	RemoveFromBlocklist(ctx context.Context, principal string) error

	Close() error
}
