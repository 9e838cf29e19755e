// Package tokenmap is the bridge pair registry of spec §3/§4, grounded on
// the teacher's node/sc.BridgeManager GetAllBridge/LoadAllBridge pattern:
// an in-memory index loaded from durable storage at startup and kept in
// sync with it on every mutation.
package tokenmap

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainbridge-x/engine/internal/bigutil"
	"github.com/chainbridge-x/engine/internal/bridgeerr"
	"github.com/chainbridge-x/engine/internal/klog"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/store"
)

var logger = klog.NewModuleLogger(klog.ModuleTokenMap)

// Registry is the in-memory mirror of the store's TokenMap rows.
type Registry struct {
	st store.Store

	mu  sync.RWMutex
	idx map[string]*model.TokenMap
}

// New constructs an empty Registry bound to st.
func New(st store.Store) *Registry {
	return &Registry{st: st, idx: make(map[string]*model.TokenMap)}
}

// Load populates the in-memory index from the Store, mirroring
// BridgeManager.LoadAllBridge.
func (r *Registry) Load(ctx context.Context) error {
	tms, err := r.st.ListTokenMaps(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idx = make(map[string]*model.TokenMap, len(tms))
	for _, tm := range tms {
		r.idx[tm.SourceToken] = tm
	}
	logger.Info("loaded token map registry", "count", len(tms))
	return nil
}

// Register adds a new pair, persisting it before indexing it, matching
// BridgeManager.SetBridge's journal-then-memory ordering.
func (r *Registry) Register(ctx context.Context, tm *model.TokenMap) error {
	if tm.DailyCap == "" {
		tm.DailyCap = bigutil.Zero
	}
	if tm.TotalDeposited == "" {
		tm.TotalDeposited = bigutil.Zero
	}
	if tm.TotalWithdrawn == "" {
		tm.TotalWithdrawn = bigutil.Zero
	}
	if tm.DailyDeposited == "" {
		tm.DailyDeposited = bigutil.Zero
	}
	if tm.DailyWithdrawn == "" {
		tm.DailyWithdrawn = bigutil.Zero
	}
	if err := r.st.CreateTokenMap(ctx, tm); err != nil {
		return err
	}
	r.mu.Lock()
	r.idx[tm.SourceToken] = tm
	r.mu.Unlock()
	return nil
}

// Lookup returns the registered pair for sourceToken.
func (r *Registry) Lookup(sourceToken string) (*model.TokenMap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tm, ok := r.idx[sourceToken]
	if !ok {
		return nil, fmt.Errorf("%w: %s", bridgeerr.ErrTokenMapMissing, sourceToken)
	}
	return tm, nil
}

// All returns a snapshot of every registered pair.
func (r *Registry) All() []*model.TokenMap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.TokenMap, 0, len(r.idx))
	for _, tm := range r.idx {
		out = append(out, tm)
	}
	return out
}

// CheckDirectionEnabled reports whether direction is enabled for
// sourceToken, returning bridgeerr.ErrUnsupportedToken otherwise.
func (r *Registry) CheckDirectionEnabled(sourceToken string, direction model.Direction) error {
	tm, err := r.Lookup(sourceToken)
	if err != nil {
		return err
	}
	enabled := tm.DepositEnabled
	if direction == model.DirectionWithdrawal {
		enabled = tm.WithdrawalEnabled
	}
	if !enabled {
		return fmt.Errorf("%w: %s disabled for %s", bridgeerr.ErrUnsupportedToken, direction, sourceToken)
	}
	return nil
}

// CheckValueBounds validates value against the pair's per-tx min/max.
func (r *Registry) CheckValueBounds(sourceToken, value string) error {
	tm, err := r.Lookup(sourceToken)
	if err != nil {
		return err
	}
	if !bigutil.IsPositive(value) {
		return fmt.Errorf("%w: non-positive value", bridgeerr.ErrValueExceedsCap)
	}
	if tm.MinPerTx != "" && bigutil.Cmp(value, tm.MinPerTx) < 0 {
		return fmt.Errorf("%w: below min_per_tx", bridgeerr.ErrValueExceedsCap)
	}
	if tm.MaxPerTx != "" && bigutil.Cmp(value, tm.MaxPerTx) > 0 {
		return fmt.Errorf("%w: above max_per_tx", bridgeerr.ErrValueExceedsCap)
	}
	return nil
}

// RecordTransfer increments the pair's running totals after a transfer
// completes (spec §3 statistics columns).
func (r *Registry) RecordTransfer(ctx context.Context, sourceToken string, direction model.Direction, value string) error {
	if err := r.st.IncrementTokenMapTotals(ctx, sourceToken, direction, value); err != nil {
		return err
	}
	return r.Load(ctx)
}
