// Package finalization implements the optimistic Finalization Engine of
// spec §4.3 (C6), grounded on the teacher's node/sc child-to-parent block
// anchoring (subbridge.go genUnsignedServiceChainTx, config.AnchoringPeriod)
// generalized from unconditional periodic anchoring into a propose ->
// challenge-window -> finalize/invalidate state machine with fraud-proof
// verification.
package finalization

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/chainbridge-x/engine/internal/chainadapter"
	"github.com/chainbridge-x/engine/internal/config"
	"github.com/chainbridge-x/engine/internal/klog"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/safety"
	"github.com/chainbridge-x/engine/internal/store"
)

var logger = klog.NewModuleLogger(klog.ModuleFinalization)

var (
	proposedCounter    = metrics.NewRegisteredCounter("finalization/proposed", nil)
	finalizedCounter   = metrics.NewRegisteredCounter("finalization/finalized", nil)
	invalidatedCounter = metrics.NewRegisteredCounter("finalization/invalidated", nil)
)

// Engine periodically proposes Chain-B blocks to Chain-A and resolves the
// resulting challenge window.
type Engine struct {
	cfg    config.FinalizationConfig
	maxBlocksPerBatch uint64
	st     store.Store
	safety *safety.Controller
	source chainadapter.Adapter // Chain-B: supplies blocks to propose
	target chainadapter.Adapter // Chain-A: receives proposals/finalizations

	mu         sync.Mutex
	lastClock  time.Time

	wg       sync.WaitGroup
	quit     chan struct{}
	quitOnce sync.Once
}

// New constructs an Engine.
func New(cfg config.FinalizationConfig, maxBlocksPerBatch uint64, st store.Store, sc *safety.Controller, source, target chainadapter.Adapter) *Engine {
	return &Engine{
		cfg: cfg, maxBlocksPerBatch: maxBlocksPerBatch, st: st, safety: sc,
		source: source, target: target,
		quit: make(chan struct{}),
	}
}

// Start launches the proposal loop and the challenge-resolution loop.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(2)
	go e.runProposalLoop(ctx)
	go e.runResolutionLoop(ctx)
}

// Stop signals both loops to exit and waits, bounded by timeout.
func (e *Engine) Stop(timeout time.Duration) error {
	e.quitOnce.Do(func() { close(e.quit) })
	done := make(chan struct{})
	go func() { e.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("finalization: engine did not drain within %s", timeout)
	}
}

func (e *Engine) runProposalLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.PeriodMsDuration())
	defer ticker.Stop()
	for {
		select {
		case <-e.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.proposeOnce(ctx); err != nil {
				logger.Error("proposal cycle failed", "err", err)
			}
		}
	}
}

// proposeOnce proposes every not-yet-proposed Chain-B block up to head,
// bounded by maxBlocksPerBatch, idempotently keyed by block number (spec
// §4.3: re-proposing an already-proposed block is a no-op).
func (e *Engine) proposeOnce(ctx context.Context) error {
	head, err := e.source.Head(ctx)
	if err != nil {
		return err
	}

	last, _, err := e.st.GetLastProposed(ctx)
	if err != nil {
		return err
	}

	from := last + 1
	to := head
	if to-from+1 > e.maxBlocksPerBatch {
		to = from + e.maxBlocksPerBatch - 1
	}
	if from > to {
		return nil
	}

	// last_proposed advances only up through the highest block actually
	// persisted (spec §5): a fetch/store failure partway through the
	// batch stops the advance there so the next cycle retries the gap,
	// rather than skipping past a block that was never proposed.
	persisted := last
	for n := from; n <= to; n++ {
		if err := e.proposeBlock(ctx, n); err != nil {
			logger.Error("propose block failed", "block", n, "err", err)
			break
		}
		persisted = n
	}
	if persisted == last {
		return nil
	}
	return e.st.SetLastProposed(ctx, persisted)
}

func (e *Engine) proposeBlock(ctx context.Context, number uint64) error {
	header, err := e.source.FetchBlock(ctx, number)
	if err != nil {
		return err
	}

	stateRoot := canonicalStateRoot(header)
	txRoot := canonicalTransactionsRoot(header)

	now := e.monotonicNow()
	f := &model.Finalization{
		BlockNumber:              number,
		BlockHash:                header.Hash,
		ParentHash:               header.ParentHash,
		StateRoot:                stateRoot,
		TransactionsRoot:         txRoot,
		TransactionCount:         header.TransactionCount,
		ProposeTime:              now,
		ExpectedFinalizationTime: now.Add(e.cfg.ChallengeWindowSDuration()),
		State:                    model.FinalizationProposed,
	}
	created, err := e.st.CreateFinalization(ctx, f)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	txHash, err := e.target.ProposeBlock(ctx, header)
	if err != nil {
		_ = e.st.UpdateFinalizationState(ctx, number, model.FinalizationProposed, model.FinalizationProposed, func(ff *model.Finalization) {
			ff.Error = err.Error()
		})
		return err
	}
	proposedCounter.Inc(1)
	return e.st.UpdateFinalizationState(ctx, number, model.FinalizationProposed, model.FinalizationProposed, func(ff *model.Finalization) {
		ff.FinalizationTxHash = txHash
	})
}

// monotonicNow enforces "monotonic wall-clock comparison for
// expected_finalization_time (deferred on clock regression)" per spec
// §9 design notes: if the observed wall clock goes backwards, the engine
// holds at the last seen time rather than computing a shorter-than-
// intended window.
func (e *Engine) monotonicNow() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	if now.Before(e.lastClock) {
		logger.Warn("wall clock regression detected, holding at last observed time", "observed", now, "held", e.lastClock)
		return e.lastClock
	}
	e.lastClock = now
	return now
}

// canonicalStateRoot falls back to SHA-256 (crypto/sha256) when an adapter
// reports no state root of its own for a Chain-A-bound proposal;
// canonicalTransactionsRoot uses the same hash.
func canonicalStateRoot(h *chainadapter.BlockHeader) string {
	if h.StateRoot != "" {
		return h.StateRoot
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", h.Number, h.Hash)))
	return hex.EncodeToString(sum[:])
}

func canonicalTransactionsRoot(h *chainadapter.BlockHeader) string {
	if h.TransactionsRoot != "" {
		return h.TransactionsRoot
	}
	hasher := sha256.New()
	for _, tx := range h.Transactions {
		hasher.Write(tx.Raw)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
