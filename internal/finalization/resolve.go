package finalization

import (
	"context"
	"time"

	"github.com/chainbridge-x/engine/internal/chainadapter"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/store"
)

func (e *Engine) runResolutionLoop(ctx context.Context) {
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
			e.resolveOnce(ctx)
		}
	}
}

// resolveOnce checks every PROPOSED finalization whose challenge window
// has elapsed and either finalizes it or resolves any open challenge
// (spec §4.3). It also serves as the restart rescan: a PROPOSED row from
// a previous process instance is picked up here exactly the same way.
func (e *Engine) resolveOnce(ctx context.Context) {
	due, err := e.st.ListProposedBefore(ctx, time.Now().UnixMilli(), 100)
	if err != nil {
		logger.Error("resolve list failed", "err", err)
		return
	}
	for _, f := range due {
		e.resolveOne(ctx, f)
	}
}

func (e *Engine) resolveOne(ctx context.Context, f *model.Finalization) {
	challenges, err := e.target.FetchChallenges(ctx, f.BlockNumber)
	if err != nil {
		logger.Error("fetch challenges failed", "block", f.BlockNumber, "err", err)
		return
	}
	if len(challenges) == 0 {
		e.finalize(ctx, f)
		return
	}

	// Multiple open challenges: the first one that is provably valid
	// invalidates the block; the rest become moot (spec §4.3 "multiple
	// open challenges" edge case).
	verifyFailed := false
	for _, ch := range challenges {
		valid, err := e.verifyChallenge(ctx, f, ch)
		if err != nil {
			logger.Error("challenge verification failed", "block", f.BlockNumber, "challenge", ch.ID, "err", err)
			verifyFailed = true
			continue
		}
		if valid {
			e.invalidate(ctx, f, ch)
			return
		}
	}
	if verifyFailed {
		// Not every challenge could be checked; leave the row PROPOSED so
		// the next resolve tick verifies them again.
		return
	}
	// All open challenges were refuted: transition through CHALLENGED so
	// the state machine records that a dispute was raised, then finalize.
	_ = e.st.UpdateFinalizationState(ctx, f.BlockNumber, model.FinalizationProposed, model.FinalizationChallenged, func(ff *model.Finalization) {
		ff.ChallengeID = challenges[0].ID
	})
	e.finalizeFrom(ctx, f, model.FinalizationChallenged)
}

// verifyChallenge checks a challenge against the adapter's canonical
// data. An unknown ChallengeKind is treated as invalid per spec §4.3.
func (e *Engine) verifyChallenge(ctx context.Context, f *model.Finalization, ch chainadapter.Challenge) (bool, error) {
	switch ch.Kind {
	case chainadapter.ChallengeInvalidStateRoot:
		canonical, err := e.source.CanonicalStateDescriptor(ctx, f.BlockNumber)
		if err != nil {
			return false, err
		}
		return canonical != f.StateRoot, nil
	case chainadapter.ChallengeInvalidTxRoot:
		header, err := e.source.FetchBlock(ctx, f.BlockNumber)
		if err != nil {
			return false, err
		}
		return canonicalTransactionsRoot(header) != f.TransactionsRoot, nil
	case chainadapter.ChallengeInvalidParentHash:
		header, err := e.source.FetchBlock(ctx, f.BlockNumber)
		if err != nil {
			return false, err
		}
		return header.ParentHash != f.ParentHash, nil
	case chainadapter.ChallengeInvalidTx:
		header, err := e.source.FetchBlock(ctx, f.BlockNumber)
		if err != nil {
			return false, err
		}
		if ch.TxIndex < 0 || ch.TxIndex >= len(header.Transactions) {
			return true, nil
		}
		return header.Transactions[ch.TxIndex].Hash != ch.ExpectedTxHash, nil
	default:
		return false, nil
	}
}

func (e *Engine) invalidate(ctx context.Context, f *model.Finalization, ch chainadapter.Challenge) {
	err := e.st.UpdateFinalizationState(ctx, f.BlockNumber, f.State, model.FinalizationInvalidated, func(ff *model.Finalization) {
		ff.ChallengeID = ch.ID
		ff.Error = string(ch.Kind)
	})
	if err != nil && err != store.ErrConflict {
		logger.Error("invalidate transition failed", "block", f.BlockNumber, "err", err)
		return
	}
	invalidatedCounter.Inc(1)
	_ = e.safety.RaiseIncident(ctx, model.IncidentChallengeLost,
		"finalization invalidated by challenge", "finalization",
		map[string]interface{}{"block": f.BlockNumber, "challenge": ch.ID, "kind": ch.Kind})
}

func (e *Engine) finalize(ctx context.Context, f *model.Finalization) {
	e.finalizeFrom(ctx, f, model.FinalizationProposed)
}

func (e *Engine) finalizeFrom(ctx context.Context, f *model.Finalization, expected model.FinalizationState) {
	txHash, err := e.target.FinalizeBlock(ctx, f.BlockNumber)
	if err != nil {
		logger.Error("finalize submission failed", "block", f.BlockNumber, "err", err)
		return
	}
	now := time.Now()
	err = e.st.UpdateFinalizationState(ctx, f.BlockNumber, expected, model.FinalizationFinalized, func(ff *model.Finalization) {
		ff.FinalizationTxHash = txHash
		ff.FinalizationTime = &now
	})
	if err != nil {
		if err != store.ErrConflict {
			logger.Error("finalize transition failed", "block", f.BlockNumber, "err", err)
		}
		return
	}
	finalizedCounter.Inc(1)
}
