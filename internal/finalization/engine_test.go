package finalization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge-x/engine/internal/chainadapter"
	"github.com/chainbridge-x/engine/internal/chainadapter/memadapter"
	"github.com/chainbridge-x/engine/internal/config"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/safety"
	"github.com/chainbridge-x/engine/internal/store/memstore"
	"github.com/chainbridge-x/engine/internal/tokenmap"
)

func newTestEngine(t *testing.T) (*Engine, *memadapter.Adapter, *memadapter.Adapter) {
	t.Helper()
	st := memstore.New()
	tokens := tokenmap.New(st)
	sc := safety.New(config.DefaultConfig.Safety, st, tokens, nil)
	source := memadapter.New(chainadapter.ChainB)
	target := memadapter.New(chainadapter.ChainA)
	e := New(config.DefaultConfig.Finalization, 2000, st, sc, source, target)
	return e, source, target
}

func TestProposeOnce_ProposesBlocksUpToHead(t *testing.T) {
	e, source, _ := newTestEngine(t)
	ctx := context.Background()
	source.SetHead(2)
	source.PutBlock(&chainadapter.BlockHeader{Number: 1, Hash: "h1", StateRoot: "r1"})
	source.PutBlock(&chainadapter.BlockHeader{Number: 2, Hash: "h2", StateRoot: "r2"})

	require.NoError(t, e.proposeOnce(ctx))

	f1, err := e.st.GetFinalization(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.FinalizationProposed, f1.State)
	assert.NotEmpty(t, f1.FinalizationTxHash)

	f2, err := e.st.GetFinalization(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, model.FinalizationProposed, f2.State)
}

func TestProposeOnce_IdempotentOnAlreadyProposedBlock(t *testing.T) {
	e, source, _ := newTestEngine(t)
	ctx := context.Background()
	source.SetHead(1)
	source.PutBlock(&chainadapter.BlockHeader{Number: 1, Hash: "h1", StateRoot: "r1"})

	require.NoError(t, e.proposeOnce(ctx))
	first, err := e.st.GetFinalization(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, e.proposeOnce(ctx))
	second, err := e.st.GetFinalization(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first.FinalizationTxHash, second.FinalizationTxHash)
}

func TestResolveOne_NoChallengesFinalizes(t *testing.T) {
	e, source, target := newTestEngine(t)
	ctx := context.Background()
	source.PutBlock(&chainadapter.BlockHeader{Number: 1, Hash: "h1", StateRoot: "r1"})
	_ = target

	f := &model.Finalization{BlockNumber: 1, StateRoot: "r1", State: model.FinalizationProposed}
	_, err := e.st.CreateFinalization(ctx, f)
	require.NoError(t, err)

	e.resolveOne(ctx, f)

	got, err := e.st.GetFinalization(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.FinalizationFinalized, got.State)
}

func TestResolveOne_ValidStateRootChallengeInvalidates(t *testing.T) {
	e, source, target := newTestEngine(t)
	ctx := context.Background()
	source.PutBlock(&chainadapter.BlockHeader{Number: 1, Hash: "h1", StateRoot: "actual-root"})

	f := &model.Finalization{BlockNumber: 1, StateRoot: "stale-root", State: model.FinalizationProposed}
	_, err := e.st.CreateFinalization(ctx, f)
	require.NoError(t, err)

	chID, err := target.CreateChallenge(ctx, 1, chainadapter.ChallengeInvalidStateRoot, nil)
	require.NoError(t, err)

	e.resolveOne(ctx, f)

	got, err := e.st.GetFinalization(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.FinalizationInvalidated, got.State)
	assert.Equal(t, chID, got.ChallengeID)

	count, err := e.st.CountUnresolvedIncidents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestResolveOne_RefutedChallengeStillFinalizes(t *testing.T) {
	e, source, target := newTestEngine(t)
	ctx := context.Background()
	source.PutBlock(&chainadapter.BlockHeader{Number: 1, Hash: "h1", StateRoot: "matching-root"})

	f := &model.Finalization{BlockNumber: 1, StateRoot: "matching-root", State: model.FinalizationProposed}
	_, err := e.st.CreateFinalization(ctx, f)
	require.NoError(t, err)

	_, err = target.CreateChallenge(ctx, 1, chainadapter.ChallengeInvalidStateRoot, nil)
	require.NoError(t, err)

	e.resolveOne(ctx, f)

	got, err := e.st.GetFinalization(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.FinalizationFinalized, got.State)
	assert.NotEmpty(t, got.ChallengeID, "challenge id should be recorded even though it was refuted")
}

func TestVerifyChallenge_InvalidParentHash(t *testing.T) {
	e, source, _ := newTestEngine(t)
	ctx := context.Background()
	source.PutBlock(&chainadapter.BlockHeader{Number: 1, ParentHash: "actual-parent"})
	f := &model.Finalization{BlockNumber: 1, ParentHash: "stale-parent"}

	valid, err := e.verifyChallenge(ctx, f, chainadapter.Challenge{Kind: chainadapter.ChallengeInvalidParentHash})
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestVerifyChallenge_InvalidTxOutOfRangeIndexIsValid(t *testing.T) {
	e, source, _ := newTestEngine(t)
	ctx := context.Background()
	source.PutBlock(&chainadapter.BlockHeader{Number: 1, Transactions: []chainadapter.Tx{{Hash: "tx0"}}})
	f := &model.Finalization{BlockNumber: 1}

	valid, err := e.verifyChallenge(ctx, f, chainadapter.Challenge{Kind: chainadapter.ChallengeInvalidTx, TxIndex: 5})
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestVerifyChallenge_UnknownKindIsInvalid(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	f := &model.Finalization{BlockNumber: 1}

	valid, err := e.verifyChallenge(ctx, f, chainadapter.Challenge{Kind: chainadapter.ChallengeKind("unknown")})
	require.NoError(t, err)
	assert.False(t, valid)
}
