package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/chainbridge-x/engine/internal/bigutil"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/store"
)

// --- TokenMap ---

type tokenMapRow struct {
	SourceToken string `gorm:"primary_key"`
	TargetToken string
	Symbol      string

	SourceDecimals int
	TargetDecimals int

	DepositEnabled    bool
	WithdrawalEnabled bool

	MinPerTx string
	MaxPerTx string
	DailyCap string

	TotalDeposited string
	TotalWithdrawn string
	DailyDeposited string
	DailyWithdrawn string
	DailyResetAt   time.Time
}

func (tokenMapRow) TableName() string { return "token_maps" }

func fromTokenMap(tm *model.TokenMap) *tokenMapRow {
	return &tokenMapRow{
		SourceToken: tm.SourceToken, TargetToken: tm.TargetToken, Symbol: tm.Symbol,
		SourceDecimals: tm.SourceDecimals, TargetDecimals: tm.TargetDecimals,
		DepositEnabled: tm.DepositEnabled, WithdrawalEnabled: tm.WithdrawalEnabled,
		MinPerTx: tm.MinPerTx, MaxPerTx: tm.MaxPerTx, DailyCap: tm.DailyCap,
		TotalDeposited: tm.TotalDeposited, TotalWithdrawn: tm.TotalWithdrawn,
		DailyDeposited: tm.DailyDeposited, DailyWithdrawn: tm.DailyWithdrawn, DailyResetAt: tm.DailyResetAt,
	}
}

func (r *tokenMapRow) toModel() *model.TokenMap {
	return &model.TokenMap{
		SourceToken: r.SourceToken, TargetToken: r.TargetToken, Symbol: r.Symbol,
		SourceDecimals: r.SourceDecimals, TargetDecimals: r.TargetDecimals,
		DepositEnabled: r.DepositEnabled, WithdrawalEnabled: r.WithdrawalEnabled,
		MinPerTx: r.MinPerTx, MaxPerTx: r.MaxPerTx, DailyCap: r.DailyCap,
		TotalDeposited: r.TotalDeposited, TotalWithdrawn: r.TotalWithdrawn,
		DailyDeposited: r.DailyDeposited, DailyWithdrawn: r.DailyWithdrawn, DailyResetAt: r.DailyResetAt,
	}
}

func (s *Store) CreateTokenMap(ctx context.Context, tm *model.TokenMap) error {
	if err := s.db.Create(fromTokenMap(tm)).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetTokenMap(ctx context.Context, sourceToken string) (*model.TokenMap, error) {
	var row tokenMapRow
	if err := s.db.Where("source_token = ?", sourceToken).First(&row).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (s *Store) ListTokenMaps(ctx context.Context) ([]*model.TokenMap, error) {
	var rows []tokenMapRow
	if err := s.db.Order("source_token asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.TokenMap, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) IncrementTokenMapTotals(ctx context.Context, sourceToken string, direction model.Direction, value string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row tokenMapRow
		if err := tx.Set("gorm:query_option", "FOR UPDATE").Where("source_token = ?", sourceToken).First(&row).Error; err != nil {
			if gorm.IsRecordNotFoundError(err) {
				return store.ErrNotFound
			}
			return err
		}
		sum := func(a, b string) string {
			if a == "" {
				a = bigutil.Zero
			}
			r, err := bigutil.Add(a, b)
			if err != nil {
				return a
			}
			return r
		}
		if direction == model.DirectionDeposit {
			row.TotalDeposited = sum(row.TotalDeposited, value)
			row.DailyDeposited = sum(row.DailyDeposited, value)
		} else {
			row.TotalWithdrawn = sum(row.TotalWithdrawn, value)
			row.DailyWithdrawn = sum(row.DailyWithdrawn, value)
		}
		return tx.Save(&row).Error
	})
}

func (s *Store) ResetDailyTotals(ctx context.Context, sourceToken string, resetAt interface{}) error {
	updates := map[string]interface{}{"daily_deposited": "0", "daily_withdrawn": "0"}
	if t, ok := resetAt.(time.Time); ok {
		updates["daily_reset_at"] = t
	}
	res := s.db.Model(&tokenMapRow{}).Where("source_token = ?", sourceToken).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- Finalization ---

type finalizationRow struct {
	BlockNumber      uint64 `gorm:"primary_key"`
	BlockHash        string
	ParentHash       string
	StateRoot        string
	TransactionsRoot string
	TransactionCount int
	Proposer         string

	ProposeTime              time.Time
	ExpectedFinalizationTime time.Time `gorm:"index"`

	State string `gorm:"index"`

	ChallengeID        string
	FinalizationTxHash string
	FinalizationTime   *time.Time
	Error              string
}

func (finalizationRow) TableName() string { return "finalizations" }

func fromFinalization(f *model.Finalization) *finalizationRow {
	return &finalizationRow{
		BlockNumber: f.BlockNumber, BlockHash: f.BlockHash, ParentHash: f.ParentHash,
		StateRoot: f.StateRoot, TransactionsRoot: f.TransactionsRoot, TransactionCount: f.TransactionCount,
		Proposer: f.Proposer, ProposeTime: f.ProposeTime, ExpectedFinalizationTime: f.ExpectedFinalizationTime,
		State: string(f.State), ChallengeID: f.ChallengeID, FinalizationTxHash: f.FinalizationTxHash,
		FinalizationTime: f.FinalizationTime, Error: f.Error,
	}
}

func (r *finalizationRow) toModel() *model.Finalization {
	return &model.Finalization{
		BlockNumber: r.BlockNumber, BlockHash: r.BlockHash, ParentHash: r.ParentHash,
		StateRoot: r.StateRoot, TransactionsRoot: r.TransactionsRoot, TransactionCount: r.TransactionCount,
		Proposer: r.Proposer, ProposeTime: r.ProposeTime, ExpectedFinalizationTime: r.ExpectedFinalizationTime,
		State: model.FinalizationState(r.State), ChallengeID: r.ChallengeID, FinalizationTxHash: r.FinalizationTxHash,
		FinalizationTime: r.FinalizationTime, Error: r.Error,
	}
}

func (s *Store) CreateFinalization(ctx context.Context, f *model.Finalization) (bool, error) {
	err := s.db.Create(fromFinalization(f)).Error
	if err == nil {
		return true, nil
	}
	if isDuplicateKeyErr(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) GetFinalization(ctx context.Context, blockNumber uint64) (*model.Finalization, error) {
	var row finalizationRow
	if err := s.db.Where("block_number = ?", blockNumber).First(&row).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (s *Store) UpdateFinalizationState(ctx context.Context, blockNumber uint64, expected, next model.FinalizationState, mutate func(*model.Finalization)) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row finalizationRow
		if err := tx.Set("gorm:query_option", "FOR UPDATE").Where("block_number = ?", blockNumber).First(&row).Error; err != nil {
			if gorm.IsRecordNotFoundError(err) {
				return store.ErrNotFound
			}
			return err
		}
		if row.State != string(expected) {
			return store.ErrConflict
		}
		m := row.toModel()
		m.State = next
		if mutate != nil {
			mutate(m)
		}
		return tx.Save(fromFinalization(m)).Error
	})
}

func (s *Store) ListFinalizationsByState(ctx context.Context, state model.FinalizationState, limit int) ([]*model.Finalization, error) {
	q := s.db.Where("state = ?", string(state)).Order("block_number desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []finalizationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Finalization, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) ListProposedBefore(ctx context.Context, unixMs int64, limit int) ([]*model.Finalization, error) {
	cutoff := time.UnixMilli(unixMs)
	q := s.db.Where("state = ? AND expected_finalization_time < ?", string(model.FinalizationProposed), cutoff).Order("block_number asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []finalizationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Finalization, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// --- Incident ---

type incidentRow struct {
	ID          string `gorm:"primary_key"`
	Kind        string `gorm:"index"`
	Description string
	Source      string
	DataJSON    string
	CreatedAt   time.Time `gorm:"index"`
	Resolved    bool      `gorm:"index"`
	Resolver    string
	ResolutionNote string
}

func (incidentRow) TableName() string { return "incidents" }

func (s *Store) CreateIncident(ctx context.Context, inc *model.Incident) error {
	if inc.ID == "" {
		inc.ID = fmt.Sprintf("inc-%d", time.Now().UnixNano())
	}
	data := "{}"
	if len(inc.Data) > 0 {
		if b, err := json.Marshal(inc.Data); err == nil {
			data = string(b)
		}
	}
	return s.db.Create(&incidentRow{
		ID: inc.ID, Kind: string(inc.Kind), Description: inc.Description, Source: inc.Source,
		DataJSON: data, CreatedAt: inc.CreatedAt, Resolved: inc.Resolved, Resolver: inc.Resolver,
		ResolutionNote: inc.ResolutionNote,
	}).Error
}

func (r *incidentRow) toModel() (*model.Incident, error) {
	var data map[string]interface{}
	if r.DataJSON != "" {
		if err := json.Unmarshal([]byte(r.DataJSON), &data); err != nil {
			return nil, err
		}
	}
	return &model.Incident{
		ID: r.ID, Kind: model.IncidentKind(r.Kind), Description: r.Description, Source: r.Source,
		Data: data, CreatedAt: r.CreatedAt, Resolved: r.Resolved, Resolver: r.Resolver,
		ResolutionNote: r.ResolutionNote,
	}, nil
}

func (s *Store) CountUnresolvedIncidents(ctx context.Context) (int, error) {
	var count int
	err := s.db.Model(&incidentRow{}).Where("resolved = ?", false).Count(&count).Error
	return count, err
}

func (s *Store) ListIncidents(ctx context.Context, onlyUnresolved bool, limit int) ([]*model.Incident, error) {
	q := s.db.Order("created_at asc")
	if onlyUnresolved {
		q = q.Where("resolved = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []incidentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Incident, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) ResolveIncident(ctx context.Context, id, resolver, note string) error {
	res := s.db.Model(&incidentRow{}).Where("id = ?", id).Updates(map[string]interface{}{
		"resolved": true, "resolver": resolver, "resolution_note": note,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- RateLimitBucket ---

type rateLimitBucketRow struct {
	Principal    string `gorm:"primary_key"`
	Action       string `gorm:"primary_key"`
	Count        int
	WindowStart  time.Time
	BlockedUntil time.Time
}

func (rateLimitBucketRow) TableName() string { return "rate_limit_buckets" }

func (s *Store) GetRateLimitBucket(ctx context.Context, principal, action string) (*model.RateLimitBucket, bool, error) {
	var row rateLimitBucketRow
	err := s.db.Where("principal = ? AND action = ?", normPrincipal(principal), action).First(&row).Error
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &model.RateLimitBucket{
		Principal: row.Principal, Action: row.Action, Count: row.Count,
		WindowStart: row.WindowStart, BlockedUntil: row.BlockedUntil,
	}, true, nil
}

func (s *Store) SaveRateLimitBucket(ctx context.Context, b *model.RateLimitBucket) error {
	return s.db.Save(&rateLimitBucketRow{
		Principal: normPrincipal(b.Principal), Action: b.Action, Count: b.Count,
		WindowStart: b.WindowStart, BlockedUntil: b.BlockedUntil,
	}).Error
}

func (s *Store) GCRateLimitBuckets(ctx context.Context, olderThanUnixMs int64) (int, error) {
	cutoff := time.UnixMilli(olderThanUnixMs)
	res := s.db.Where("window_start < ? AND blocked_until < ?", cutoff, cutoff).Delete(&rateLimitBucketRow{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}
