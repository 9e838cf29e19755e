// Package sqlstore implements store.Store on top of jinzhu/gorm and the
// go-sql-driver/mysql dialect, both present in the teacher's own go.mod
// (pulled in for the teacher's database/sql-backed tooling) but never
// exercised by any single teacher package. This is the component that
// finally wires them in: a relational backend for deployments that want
// replication, backups and ad-hoc SQL reporting over the bridge's state
// instead of an embedded engine, selected the way storage/database's
// DBConfig.getDatabase switches on DBType.
package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/go-sql-driver/mysql"

	"github.com/chainbridge-x/engine/internal/klog"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/store"
)

var logger = klog.NewModuleLogger(klog.ModuleStore)

// Store implements store.Store over a *gorm.DB.
type Store struct {
	db *gorm.DB
}

// Open connects to a MySQL dsn (e.g. "user:pass@tcp(host:3306)/dbname?parseTime=true")
// and runs AutoMigrate over every row type.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open failed: %w", err)
	}
	db.LogMode(false)
	db = db.Set("gorm:auto_preload", false)

	if err := db.AutoMigrate(
		&transferRow{},
		&journalRow{},
		&lastScannedRow{},
		&tokenMapRow{},
		&finalizationRow{},
		&incidentRow{},
		&rateLimitBucketRow{},
		&haltRow{},
		&allowlistRow{},
		&blocklistRow{},
		&lastProposedRow{},
	).Error; err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: automigrate failed: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// --- row types, one table per concern, mirroring node/sc's flat-table
// persistence shape rather than a normalized schema, since every row here
// is already the unit the interface queries by ---

type transferRow struct {
	ID        string `gorm:"primary_key"`
	Direction string `gorm:"index"`
	Status    string `gorm:"index"`

	SourceChain         string
	SourceAddress       string `gorm:"index"`
	SourceToken         string
	SourceTxHash        string `gorm:"unique_index"`
	SourceBlockNumber   uint64
	SourceConfirmations uint64

	TargetChain       string
	TargetAddress     string
	TargetToken       string
	TargetTxHash      string
	TargetBlockNumber uint64

	Value string

	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time `gorm:"index"`
	CompletedAt *time.Time

	AttestationHash *string

	LastError     string
	RetryCount    int
	NextRetryTime *time.Time

	MetadataJSON string
}

func (transferRow) TableName() string { return "transfers" }

func fromTransfer(t *model.Transfer) (*transferRow, error) {
	meta := "{}"
	if len(t.Metadata) > 0 {
		b, err := json.Marshal(t.Metadata)
		if err != nil {
			return nil, err
		}
		meta = string(b)
	}
	return &transferRow{
		ID: t.ID, Direction: string(t.Direction), Status: string(t.Status),
		SourceChain: t.SourceChain, SourceAddress: t.SourceAddress, SourceToken: t.SourceToken,
		SourceTxHash: t.SourceTxHash, SourceBlockNumber: t.SourceBlockNumber, SourceConfirmations: t.SourceConfirmations,
		TargetChain: t.TargetChain, TargetAddress: t.TargetAddress, TargetToken: t.TargetToken,
		TargetTxHash: t.TargetTxHash, TargetBlockNumber: t.TargetBlockNumber,
		Value: t.Value, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt, CompletedAt: t.CompletedAt,
		AttestationHash: t.AttestationHash, LastError: t.LastError, RetryCount: t.RetryCount,
		NextRetryTime: t.NextRetryTime, MetadataJSON: meta,
	}, nil
}

func (r *transferRow) toModel() (*model.Transfer, error) {
	var meta map[string]interface{}
	if r.MetadataJSON != "" {
		if err := json.Unmarshal([]byte(r.MetadataJSON), &meta); err != nil {
			return nil, err
		}
	}
	return &model.Transfer{
		ID: r.ID, Direction: model.Direction(r.Direction), Status: model.TransferStatus(r.Status),
		SourceChain: r.SourceChain, SourceAddress: r.SourceAddress, SourceToken: r.SourceToken,
		SourceTxHash: r.SourceTxHash, SourceBlockNumber: r.SourceBlockNumber, SourceConfirmations: r.SourceConfirmations,
		TargetChain: r.TargetChain, TargetAddress: r.TargetAddress, TargetToken: r.TargetToken,
		TargetTxHash: r.TargetTxHash, TargetBlockNumber: r.TargetBlockNumber,
		Value: r.Value, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, CompletedAt: r.CompletedAt,
		AttestationHash: r.AttestationHash, LastError: r.LastError, RetryCount: r.RetryCount,
		NextRetryTime: r.NextRetryTime, Metadata: meta,
	}, nil
}

func isDuplicateKeyErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Duplicate entry")
}

func (s *Store) CreateTransfer(ctx context.Context, t *model.Transfer) error {
	row, err := fromTransfer(t)
	if err != nil {
		return err
	}
	if err := s.db.Create(row).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*model.Transfer, error) {
	var row transferRow
	if err := s.db.Where("id = ?", id).First(&row).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return row.toModel()
}

func (s *Store) GetTransferBySourceTxHash(ctx context.Context, sourceTxHash string) (*model.Transfer, error) {
	var row transferRow
	if err := s.db.Where("source_tx_hash = ?", sourceTxHash).First(&row).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return row.toModel()
}

// UpdateTransferStatus performs the conditional "WHERE id=? AND status=expected"
// update of spec §4.1 directly as a SQL predicate, then appends a journal
// row in the same call, mirroring the teacher's bridge_tx_pool.go pattern
// of pairing a state change with a recorded event.
func (s *Store) UpdateTransferStatus(ctx context.Context, id string, expected, next model.TransferStatus, mutate func(*model.Transfer)) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row transferRow
		if err := tx.Set("gorm:query_option", "FOR UPDATE").Where("id = ?", id).First(&row).Error; err != nil {
			if gorm.IsRecordNotFoundError(err) {
				return store.ErrNotFound
			}
			return err
		}
		if row.Status != string(expected) {
			return store.ErrConflict
		}
		m, err := row.toModel()
		if err != nil {
			return err
		}
		m.Status = next
		m.UpdatedAt = time.Now()
		if mutate != nil {
			mutate(m)
		}
		newRow, err := fromTransfer(m)
		if err != nil {
			return err
		}
		if err := tx.Save(newRow).Error; err != nil {
			return err
		}
		return tx.Create(&journalRow{
			TransferID: id, From: string(expected), To: string(next), At: m.UpdatedAt,
		}).Error
	})
}

func (s *Store) ListPendingTransfers(ctx context.Context, direction model.Direction, limit int) ([]*model.Transfer, error) {
	var rows []transferRow
	q := s.db.Where("direction = ? AND status = ? AND (next_retry_time IS NULL OR next_retry_time <= ?)",
		string(direction), string(model.StatusPending), time.Now()).Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toTransferSlice(rows)
}

func (s *Store) ListStuckTransfers(ctx context.Context, olderThanUnixMs int64, limit int) ([]*model.Transfer, error) {
	cutoff := time.UnixMilli(olderThanUnixMs)
	var rows []transferRow
	q := s.db.Where("status IN (?) AND updated_at < ?",
		[]string{string(model.StatusProcessing), string(model.StatusConfirming), string(model.StatusFinalizing)}, cutoff).
		Order("updated_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toTransferSlice(rows)
}

func (s *Store) ListTransfers(ctx context.Context, f store.TransferFilter) ([]*model.Transfer, error) {
	q := s.db.Model(&transferRow{})
	if f.Direction != nil {
		q = q.Where("direction = ?", string(*f.Direction))
	}
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}
	q = q.Order("created_at asc")
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []transferRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toTransferSlice(rows)
}

func toTransferSlice(rows []transferRow) ([]*model.Transfer, error) {
	out := make([]*model.Transfer, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// --- journal ---

type journalRow struct {
	ID         int64  `gorm:"primary_key;auto_increment"`
	TransferID string `gorm:"index"`
	From       string
	To         string
	At         time.Time `gorm:"index"`
}

func (journalRow) TableName() string { return "transition_journal" }

func (s *Store) AppendTransitionJournal(ctx context.Context, e *model.TransitionJournalEntry) error {
	row := &journalRow{TransferID: e.TransferID, From: string(e.From), To: string(e.To), At: e.At}
	if err := s.db.Create(row).Error; err != nil {
		return err
	}
	e.ID = row.ID
	return nil
}

func (s *Store) ReadTransitionJournal(ctx context.Context, transferID string) ([]*model.TransitionJournalEntry, error) {
	var rows []journalRow
	if err := s.db.Where("transfer_id = ?", transferID).Order("at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toJournalSlice(rows), nil
}

func (s *Store) ReadAllTransitionJournal(ctx context.Context, sinceUnixMs int64, limit int) ([]*model.TransitionJournalEntry, error) {
	since := time.UnixMilli(sinceUnixMs)
	q := s.db.Where("at >= ?", since).Order("at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []journalRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toJournalSlice(rows), nil
}

func toJournalSlice(rows []journalRow) []*model.TransitionJournalEntry {
	out := make([]*model.TransitionJournalEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, &model.TransitionJournalEntry{ID: r.ID, TransferID: r.TransferID, From: model.TransferStatus(r.From), To: model.TransferStatus(r.To), At: r.At})
	}
	return out
}

// --- ingestion checkpoints ---

type lastScannedRow struct {
	Direction   string `gorm:"primary_key"`
	BlockNumber uint64
}

func (lastScannedRow) TableName() string { return "last_scanned" }

func (s *Store) GetLastScanned(ctx context.Context, direction model.Direction) (uint64, bool, error) {
	var row lastScannedRow
	if err := s.db.Where("direction = ?", string(direction)).First(&row).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return row.BlockNumber, true, nil
}

func (s *Store) SetLastScanned(ctx context.Context, direction model.Direction, blockNumber uint64) error {
	row := lastScannedRow{Direction: string(direction), BlockNumber: blockNumber}
	return s.db.Save(&row).Error
}

// --- emergency halt ---

type haltRow struct {
	ID     uint `gorm:"primary_key"`
	Halted bool
	Reason string
}

func (haltRow) TableName() string { return "emergency_halt" }

func (s *Store) GetEmergencyHalt(ctx context.Context) (bool, string, error) {
	var row haltRow
	if err := s.db.Where("id = ?", 1).First(&row).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return false, "", nil
		}
		return false, "", err
	}
	return row.Halted, row.Reason, nil
}

func (s *Store) SetEmergencyHalt(ctx context.Context, halted bool, reason string) error {
	row := haltRow{ID: 1, Halted: halted, Reason: reason}
	return s.db.Save(&row).Error
}

// --- finalization proposer checkpoint ---

type lastProposedRow struct {
	ID          uint `gorm:"primary_key"`
	BlockNumber uint64
}

func (lastProposedRow) TableName() string { return "last_proposed" }

func (s *Store) GetLastProposed(ctx context.Context) (uint64, bool, error) {
	var row lastProposedRow
	if err := s.db.Where("id = ?", 1).First(&row).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return row.BlockNumber, true, nil
}

func (s *Store) SetLastProposed(ctx context.Context, blockNumber uint64) error {
	row := lastProposedRow{ID: 1, BlockNumber: blockNumber}
	return s.db.Save(&row).Error
}

// --- allow/block lists ---

type allowlistRow struct {
	Principal string `gorm:"primary_key"`
}

func (allowlistRow) TableName() string { return "allowlist" }

type blocklistRow struct {
	Principal string `gorm:"primary_key"`
}

func (blocklistRow) TableName() string { return "blocklist" }

func normPrincipal(p string) string { return strings.ToLower(strings.TrimSpace(p)) }

func (s *Store) IsAllowlisted(ctx context.Context, principal string) (bool, error) {
	var count int
	err := s.db.Model(&allowlistRow{}).Where("principal = ?", normPrincipal(principal)).Count(&count).Error
	return count > 0, err
}

func (s *Store) IsBlocklisted(ctx context.Context, principal string) (bool, error) {
	var count int
	err := s.db.Model(&blocklistRow{}).Where("principal = ?", normPrincipal(principal)).Count(&count).Error
	return count > 0, err
}

func (s *Store) AddToAllowlist(ctx context.Context, principal string) error {
	return s.db.Save(&allowlistRow{Principal: normPrincipal(principal)}).Error
}

func (s *Store) AddToBlocklist(ctx context.Context, principal string) error {
	return s.db.Save(&blocklistRow{Principal: normPrincipal(principal)}).Error
}

func (s *Store) RemoveFromBlocklist(ctx context.Context, principal string) error {
	return s.db.Where("principal = ?", normPrincipal(principal)).Delete(&blocklistRow{}).Error
}

var _ store.Store = (*Store)(nil)
