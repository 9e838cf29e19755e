package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/safety"
	"github.com/chainbridge-x/engine/internal/store"
)

// runWorker pulls PENDING/retryable transfers of direction FIFO, together
// with the suspended CONFIRMING/FINALIZING ones, and drives them through
// the state machine (spec §4.1), one worker of a configurable-size pool
// per direction.
func (p *Pipeline) runWorker(ctx context.Context, direction model.Direction, id int) {
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
			p.drainBatch(ctx, direction)
		}
	}
}

func (p *Pipeline) drainBatch(ctx context.Context, direction model.Direction) {
	// Suspended transfers (waiting for target confirmations or for
	// finalization) are re-examined on every tick, before new PENDING work.
	for _, status := range []model.TransferStatus{model.StatusFinalizing, model.StatusConfirming} {
		status := status
		suspended, err := p.st.ListTransfers(ctx, store.TransferFilter{Direction: &direction, Status: &status, Limit: p.cfg.Poll.BatchSize})
		if err != nil {
			logger.Error("drain batch list failed", "direction", direction, "status", status, "err", err)
			continue
		}
		for _, t := range suspended {
			p.advance(ctx, t)
		}
	}
	batch, err := p.st.ListPendingTransfers(ctx, direction, p.cfg.Poll.BatchSize)
	if err != nil {
		logger.Error("drain batch list failed", "direction", direction, "err", err)
		return
	}
	for _, t := range batch {
		p.advance(ctx, t)
	}
}

// advance runs one state-machine step for t, starting from whatever
// status it currently holds. Every transition is performed via the
// Store's conditional update so concurrent workers (or a restart racing
// a sweep) never double-apply an effect.
func (p *Pipeline) advance(ctx context.Context, t *model.Transfer) {
	switch t.Status {
	case model.StatusPending:
		p.stepProcessing(ctx, t)
	case model.StatusConfirming:
		p.stepConfirming(ctx, t)
	case model.StatusFinalizing:
		p.stepFinalizing(ctx, t)
	case model.StatusCompleted:
		p.stepCompleted(ctx, t)
	}
}

// stepProcessing runs admission and submits the target-side effect,
// PENDING -> PROCESSING (synchronous admission failures reject the
// transfer immediately; adapter submission failures go to the retry
// loop, spec §4.1's "synchronous vs async error split").
func (p *Pipeline) stepProcessing(ctx context.Context, t *model.Transfer) {
	err := p.safety.Admit(ctx, safety.AdmitRequest{
		Direction: t.Direction,
		Principal: t.SourceAddress,
		Token:     t.SourceToken,
		Value:     t.Value,
	})
	if err != nil {
		p.fail(ctx, t, model.StatusPending, err, false)
		return
	}

	if err := p.st.UpdateTransferStatus(ctx, t.ID, model.StatusPending, model.StatusProcessing, nil); err != nil {
		if err != store.ErrConflict {
			logger.Error("transition to PROCESSING failed", "id", t.ID, "err", err)
		}
		return
	}

	target := p.targetAdapter(t.Direction)
	tm, lookupErr := p.tokens.Lookup(t.SourceToken)
	targetToken := t.TargetToken
	if lookupErr == nil {
		targetToken = tm.TargetToken
	}

	var txHash string
	var submitErr error
	if t.Direction == model.DirectionDeposit {
		txHash, submitErr = target.SubmitMint(ctx, t.TargetAddress, targetToken, t.Value, t.SourceBlockNumber)
	} else {
		txHash, submitErr = target.SubmitRelease(ctx, t.TargetAddress, targetToken, t.Value, t.SourceBlockNumber)
	}
	if submitErr != nil {
		p.fail(ctx, t, model.StatusProcessing, fmt.Errorf("submit: %w", submitErr), true)
		return
	}

	err = p.st.UpdateTransferStatus(ctx, t.ID, model.StatusProcessing, model.StatusConfirming, func(tr *model.Transfer) {
		tr.TargetTxHash = txHash
		tr.TargetToken = targetToken
	})
	if err != nil && err != store.ErrConflict {
		logger.Error("transition to CONFIRMING failed", "id", t.ID, "err", err)
	}
}

// stepConfirming waits for the target tx to reach the required
// confirmation depth, CONFIRMING -> FINALIZING (or -> FAILED on revert).
func (p *Pipeline) stepConfirming(ctx context.Context, t *model.Transfer) {
	target := p.targetAdapter(t.Direction)
	res, err := target.Confirmations(ctx, t.TargetTxHash)
	if err != nil {
		logger.Warn("confirmation check failed", "id", t.ID, "err", err)
		return
	}
	if res.Reverted {
		p.fail(ctx, t, model.StatusConfirming, fmt.Errorf("target tx %s reverted", t.TargetTxHash), true)
		return
	}
	required := p.cfg.Confirmations.Target
	if res.Confirmations < required {
		return
	}
	err = p.st.UpdateTransferStatus(ctx, t.ID, model.StatusConfirming, model.StatusFinalizing, func(tr *model.Transfer) {
		tr.TargetBlockNumber = res.IncludedBlock
	})
	if err != nil && err != store.ErrConflict {
		logger.Error("transition to FINALIZING failed", "id", t.ID, "err", err)
	}
}

// stepFinalizing gates on the target chain's own finalization status,
// FINALIZING -> COMPLETED. For the chain whose blocks the Finalization
// Engine anchors (Chain-B), this means waiting until the containing
// block itself has FINALIZED; otherwise confirmation depth alone
// suffices and the transfer can complete immediately.
func (p *Pipeline) stepFinalizing(ctx context.Context, t *model.Transfer) {
	if t.Direction == model.DirectionWithdrawal {
		// Withdrawal's target leg lands on Chain-A (EVM), which has no
		// separate finalization gate in this engine; confirmation depth
		// from stepConfirming already sufficed.
		p.complete(ctx, t)
		return
	}

	f, err := p.st.GetFinalization(ctx, t.TargetBlockNumber)
	if err != nil {
		if err == store.ErrNotFound {
			// Chain-B block not yet proposed by the Finalization Engine;
			// wait for the next cycle.
			return
		}
		logger.Error("finalization lookup failed", "id", t.ID, "err", err)
		return
	}
	switch f.State {
	case model.FinalizationFinalized:
		p.complete(ctx, t)
	case model.FinalizationInvalidated:
		p.fail(ctx, t, model.StatusFinalizing, fmt.Errorf("containing block %d invalidated", t.TargetBlockNumber), true)
	default:
		// PROPOSED or CHALLENGED: still within the challenge window.
	}
}

func (p *Pipeline) complete(ctx context.Context, t *model.Transfer) {
	now := time.Now()
	err := p.st.UpdateTransferStatus(ctx, t.ID, model.StatusFinalizing, model.StatusCompleted, func(tr *model.Transfer) {
		tr.CompletedAt = &now
	})
	if err != nil {
		if err != store.ErrConflict {
			logger.Error("transition to COMPLETED failed", "id", t.ID, "err", err)
		}
		return
	}
	processedCounter.Inc(1)
	if rerr := p.tokens.RecordTransfer(ctx, t.SourceToken, t.Direction, t.Value); rerr != nil {
		logger.Warn("token map totals update failed", "id", t.ID, "err", rerr)
	}
}

// stepCompleted is a no-op (COMPLETED has no outgoing edges processed
// here); drainBatch never passes a COMPLETED row to advance, and the case
// is kept for switch exhaustiveness in advance.
func (p *Pipeline) stepCompleted(ctx context.Context, t *model.Transfer) {}

// fail applies the retry policy of spec §4.1: FAILED with a scheduled
// retry if under retry.max, permanently FAILED otherwise. async=true
// widens the log to Warn since these are expected transient conditions
// (adapter submission, confirmation revert); async=false are rejections
// surfaced synchronously by the Safety Controller.
func (p *Pipeline) fail(ctx context.Context, t *model.Transfer, from model.TransferStatus, cause error, async bool) {
	failedCounter.Inc(1)
	if async {
		logger.Warn("transfer step failed", "id", t.ID, "err", cause)
	} else {
		logger.Info("transfer rejected by safety controller", "id", t.ID, "err", cause)
	}

	retryCount := t.RetryCount + 1
	var nextRetry *time.Time
	if retryCount <= p.cfg.Retry.Max {
		nr := time.Now().Add(p.cfg.RetryDelay())
		nextRetry = &nr
	}

	err := p.st.UpdateTransferStatus(ctx, t.ID, from, model.StatusFailed, func(tr *model.Transfer) {
		tr.LastError = cause.Error()
		tr.RetryCount = retryCount
		tr.NextRetryTime = nextRetry
	})
	if err != nil && err != store.ErrConflict {
		logger.Error("transition to FAILED failed", "id", t.ID, "err", err)
	}

	if nextRetry != nil {
		// FAILED -> PENDING is itself a modeled edge (spec §4.1); apply it
		// once the scheduled retry time has been recorded so the worker
		// pool's next ListPendingTransfers pull picks it up naturally.
		go p.scheduleRetry(ctx, t.ID, *nextRetry)
	}
}

// scheduleRetry waits until nextRetry then flips FAILED -> PENDING,
// mirroring the retry_delay_ms wait of spec §4.1. It is a best-effort
// in-process timer; the periodic rescanDueRetries sweep is the
// restart-safe fallback if the process exits before this fires.
func (p *Pipeline) scheduleRetry(ctx context.Context, id string, at time.Time) {
	d := time.Until(at)
	if d > 0 {
		select {
		case <-time.After(d):
		case <-p.quit:
			return
		}
	}
	err := p.st.UpdateTransferStatus(ctx, id, model.StatusFailed, model.StatusPending, nil)
	if err != nil && err != store.ErrConflict {
		logger.Error("retry transition to PENDING failed", "id", id, "err", err)
	}
}
