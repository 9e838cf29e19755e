// Package transfer implements the Transfer Pipeline of spec §4.1/§6 (C5):
// two ingestion pollers (deposit from Chain-A, withdrawal from Chain-B)
// feeding a bounded worker pool that drives the Transfer state machine.
// Grounded on the teacher's datasync/chaindatafetcher.ChainDataFetcher
// (bounded worker goroutines over a job channel, WaitGroup-bounded
// shutdown) and node/sc.BridgeManager's event-driven ingestion loop.
package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/chainbridge-x/engine/internal/bridgeerr"
	"github.com/chainbridge-x/engine/internal/chainadapter"
	"github.com/chainbridge-x/engine/internal/config"
	"github.com/chainbridge-x/engine/internal/klog"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/safety"
	"github.com/chainbridge-x/engine/internal/store"
	"github.com/chainbridge-x/engine/internal/tokenmap"
)

var logger = klog.NewModuleLogger(klog.ModuleTransfer)

var (
	ingestedCounter  = metrics.NewRegisteredCounter("transfer/ingested", nil)
	duplicateCounter = metrics.NewRegisteredCounter("transfer/duplicate", nil)
	processedCounter = metrics.NewRegisteredCounter("transfer/processed", nil)
	failedCounter    = metrics.NewRegisteredCounter("transfer/failed", nil)
)

// Pipeline owns the ingestion pollers and worker pools for both
// directions.
type Pipeline struct {
	cfg     config.Config
	st      store.Store
	tokens  *tokenmap.Registry
	safety  *safety.Controller
	chainA  chainadapter.Adapter
	chainB  chainadapter.Adapter

	wg     sync.WaitGroup
	quit   chan struct{}
	quitOnce sync.Once
}

// New constructs a Pipeline. chainA is the deposit source / withdrawal
// target; chainB is the deposit target / withdrawal source.
func New(cfg config.Config, st store.Store, tokens *tokenmap.Registry, sc *safety.Controller, chainA, chainB chainadapter.Adapter) *Pipeline {
	return &Pipeline{
		cfg: cfg, st: st, tokens: tokens, safety: sc,
		chainA: chainA, chainB: chainB,
		quit: make(chan struct{}),
	}
}

// Start launches the ingestion pollers and worker pools. It is safe to
// call once; calling Stop and then Start again is not supported.
func (p *Pipeline) Start(ctx context.Context) {
	p.wg.Add(2)
	go p.runIngestion(ctx, model.DirectionDeposit, p.chainA, chainadapter.EventLock)
	go p.runIngestion(ctx, model.DirectionWithdrawal, p.chainB, chainadapter.EventBurn)

	for i := 0; i < p.cfg.Pool.DepositWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, model.DirectionDeposit, i)
	}
	for i := 0; i < p.cfg.Pool.WithdrawalWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, model.DirectionWithdrawal, i)
	}

	p.wg.Add(1)
	go p.runStuckSweeper(ctx)
}

// Stop signals all goroutines to exit and waits for them, bounded by
// timeout.
func (p *Pipeline) Stop(timeout time.Duration) error {
	p.quitOnce.Do(func() { close(p.quit) })
	done := make(chan struct{})
	go func() { p.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("transfer: pipeline did not drain within %s", timeout)
	}
}

// runIngestion polls src for bridge events from last_scanned to head in
// bounded batches, inserting new Transfer rows (spec §4.1 ingestion).
func (p *Pipeline) runIngestion(ctx context.Context, direction model.Direction, src chainadapter.Adapter, kind chainadapter.EventKind) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.ingestOnce(ctx, direction, src, kind); err != nil {
				logger.Error("ingestion cycle failed", "direction", direction, "err", err)
			}
		}
	}
}

func (p *Pipeline) ingestOnce(ctx context.Context, direction model.Direction, src chainadapter.Adapter, kind chainadapter.EventKind) error {
	head, err := src.Head(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", bridgeerr.ErrAdapterError, err)
	}

	last, ok, err := p.st.GetLastScanned(ctx, direction)
	if err != nil {
		return err
	}
	if !ok {
		// First run: start from head, never back-scan (spec §4.1).
		return p.st.SetLastScanned(ctx, direction, head)
	}
	if head <= last {
		return nil
	}

	to := head
	if to-last > p.cfg.Poll.MaxBlocksPerBatch {
		to = last + p.cfg.Poll.MaxBlocksPerBatch
	}

	events, err := src.FetchEvents(ctx, last, to)
	if err != nil {
		return fmt.Errorf("%w: %v", bridgeerr.ErrAdapterError, err)
	}

	for _, ev := range events {
		if ev.Kind != kind {
			continue
		}
		if err := p.ingestEvent(ctx, direction, src, ev); err != nil {
			logger.Error("ingest event failed", "tx", ev.TxHash, "err", err)
		}
	}

	// Advance last_scanned only after the batch's events are durably
	// recorded, so a crash mid-batch simply re-fetches and dedups.
	return p.st.SetLastScanned(ctx, direction, to)
}

func (p *Pipeline) ingestEvent(ctx context.Context, direction model.Direction, src chainadapter.Adapter, ev chainadapter.Event) error {
	now := time.Now()
	t := &model.Transfer{
		ID:                fmt.Sprintf("%s-%s", direction, ev.TxHash),
		Direction:         direction,
		Status:            model.StatusPending,
		SourceAddress:     ev.From,
		SourceToken:       ev.Token,
		SourceTxHash:      ev.TxHash,
		SourceBlockNumber: ev.BlockNumber,
		TargetAddress:     ev.To,
		Value:             ev.Value,
		CreatedAt:         now,
		UpdatedAt:         now,
		Metadata:          ev.Metadata,
	}
	if direction == model.DirectionDeposit {
		t.SourceChain = string(chainadapter.ChainA)
		t.TargetChain = string(chainadapter.ChainB)
	} else {
		t.SourceChain = string(chainadapter.ChainB)
		t.TargetChain = string(chainadapter.ChainA)
	}

	if err := p.st.CreateTransfer(ctx, t); err != nil {
		if err == store.ErrAlreadyExists {
			duplicateCounter.Inc(1)
			_ = p.safety.RaiseIncident(ctx, model.IncidentDoubleSpendAttempt,
				"duplicate source_tx_hash observed during ingestion", "ingestion",
				map[string]interface{}{"source_tx_hash": ev.TxHash})
			return nil
		}
		return err
	}
	ingestedCounter.Inc(1)
	return nil
}

// runStuckSweeper periodically reclaims transfers stuck in a non-terminal
// state longer than stuck.threshold_ms (spec §4.1).
func (p *Pipeline) runStuckSweeper(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.StuckThreshold() / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepStuck(ctx)
		}
	}
}

func (p *Pipeline) sweepStuck(ctx context.Context) {
	cutoff := time.Now().Add(-p.cfg.StuckThreshold()).UnixMilli()
	stuck, err := p.st.ListStuckTransfers(ctx, cutoff, p.cfg.Poll.BatchSize)
	if err != nil {
		logger.Error("stuck sweep list failed", "err", err)
		return
	}
	for _, t := range stuck {
		p.reclaimStuck(ctx, t)
	}
	p.rescanDueRetries(ctx, model.DirectionDeposit)
	p.rescanDueRetries(ctx, model.DirectionWithdrawal)
}

// rescanDueRetries is the restart-safe counterpart to scheduleRetry's
// in-process timer: any FAILED row whose NextRetryTime has elapsed gets
// promoted back to PENDING even if the process that scheduled it never
// got to fire the timer.
func (p *Pipeline) rescanDueRetries(ctx context.Context, direction model.Direction) {
	status := model.StatusFailed
	failed, err := p.st.ListTransfers(ctx, store.TransferFilter{Direction: &direction, Status: &status, Limit: p.cfg.Poll.BatchSize})
	if err != nil {
		logger.Error("retry rescan list failed", "direction", direction, "err", err)
		return
	}
	now := time.Now()
	for _, t := range failed {
		if t.NextRetryTime == nil || t.NextRetryTime.After(now) {
			continue
		}
		err := p.st.UpdateTransferStatus(ctx, t.ID, model.StatusFailed, model.StatusPending, nil)
		if err != nil && err != store.ErrConflict {
			logger.Error("retry rescan transition failed", "id", t.ID, "err", err)
		}
	}
}

// reclaimStuck checks whether the target chain already observed
// completion before demoting back to PENDING, honoring the "promote to
// COMPLETED if the target-side effect is observed" edge case of §4.1.
func (p *Pipeline) reclaimStuck(ctx context.Context, t *model.Transfer) {
	target := p.targetAdapter(t.Direction)
	if t.TargetTxHash != "" && target != nil {
		res, err := target.Confirmations(ctx, t.TargetTxHash)
		if err == nil && !res.Reverted && res.Confirmations >= p.requiredConfirmations(t.Direction, false) {
			completedAt := time.Now()
			err := p.st.UpdateTransferStatus(ctx, t.ID, t.Status, model.StatusCompleted, func(tr *model.Transfer) {
				tr.CompletedAt = &completedAt
			})
			if err != nil && err != store.ErrConflict {
				logger.Error("stuck reclaim promote failed", "id", t.ID, "err", err)
			}
			return
		}
	}
	// Demote via the already-legal FAILED -> PENDING edge (model/transfer.go
	// validEdges) in two steps, rather than journaling a direct
	// PROCESSING/CONFIRMING/FINALIZING -> PENDING edge that
	// safety.detectInvalidStateTransitions would then flag as fraud.
	err := p.st.UpdateTransferStatus(ctx, t.ID, t.Status, model.StatusFailed, func(tr *model.Transfer) {
		tr.LastError = "reclaimed from stuck state"
	})
	if err != nil {
		if err != store.ErrConflict {
			logger.Error("stuck reclaim demote failed", "id", t.ID, "err", err)
		}
		return
	}
	if err := p.st.UpdateTransferStatus(ctx, t.ID, model.StatusFailed, model.StatusPending, nil); err != nil && err != store.ErrConflict {
		logger.Error("stuck reclaim re-pend failed", "id", t.ID, "err", err)
	}
}

func (p *Pipeline) sourceAdapter(d model.Direction) chainadapter.Adapter {
	if d == model.DirectionDeposit {
		return p.chainA
	}
	return p.chainB
}

func (p *Pipeline) targetAdapter(d model.Direction) chainadapter.Adapter {
	if d == model.DirectionDeposit {
		return p.chainB
	}
	return p.chainA
}

func (p *Pipeline) requiredConfirmations(d model.Direction, source bool) uint64 {
	if source {
		return p.cfg.Confirmations.Source
	}
	return p.cfg.Confirmations.Target
}
