package tokenmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge-x/engine/internal/bridgeerr"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/store/memstore"
)

func TestRegister_DefaultsEmptyBigintFields(t *testing.T) {
	r := New(memstore.New())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, &model.TokenMap{SourceToken: "TOK", TargetToken: "tTOK", DepositEnabled: true}))

	tm, err := r.Lookup("TOK")
	require.NoError(t, err)
	assert.Equal(t, "0", tm.TotalDeposited)
	assert.Equal(t, "0", tm.DailyCap)
}

func TestLookup_MissingReturnsWrappedError(t *testing.T) {
	r := New(memstore.New())
	_, err := r.Lookup("NOPE")
	assert.ErrorIs(t, err, bridgeerr.ErrTokenMapMissing)
}

func TestCheckDirectionEnabled(t *testing.T) {
	r := New(memstore.New())
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, &model.TokenMap{SourceToken: "TOK", DepositEnabled: true, WithdrawalEnabled: false}))

	assert.NoError(t, r.CheckDirectionEnabled("TOK", model.DirectionDeposit))
	assert.Error(t, r.CheckDirectionEnabled("TOK", model.DirectionWithdrawal))
}

func TestCheckValueBounds(t *testing.T) {
	r := New(memstore.New())
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, &model.TokenMap{SourceToken: "TOK", MinPerTx: "10", MaxPerTx: "1000"}))

	assert.NoError(t, r.CheckValueBounds("TOK", "500"))
	assert.Error(t, r.CheckValueBounds("TOK", "1"))
	assert.Error(t, r.CheckValueBounds("TOK", "5000"))
	assert.Error(t, r.CheckValueBounds("TOK", "0"))
}

func TestLoad_RebuildsIndexFromStore(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, st.CreateTokenMap(ctx, &model.TokenMap{SourceToken: "TOK"}))

	r := New(st)
	require.NoError(t, r.Load(ctx))

	_, err := r.Lookup("TOK")
	assert.NoError(t, err)
}

func TestRecordTransfer_UpdatesRunningTotals(t *testing.T) {
	r := New(memstore.New())
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, &model.TokenMap{SourceToken: "TOK"}))

	require.NoError(t, r.RecordTransfer(ctx, "TOK", model.DirectionDeposit, "42"))

	tm, err := r.Lookup("TOK")
	require.NoError(t, err)
	assert.Equal(t, "42", tm.TotalDeposited)
}
