package kvstore

import (
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/store"
)

func withEngine(t *testing.T, dbType DBType, fn func(*Store)) {
	t.Helper()
	dir, err := ioutil.TempDir("", "chainbridge-kvstore-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	eng, err := Open(dbType, dir)
	require.NoError(t, err)
	defer eng.Close()

	fn(New(eng))
}

func TestLevelDB_CreateAndGetTransfer(t *testing.T) {
	withEngine(t, DBTypeLevelDB, func(st *Store) {
		ctx := context.Background()
		now := time.Now()
		tr := &model.Transfer{ID: "t1", Status: model.StatusPending, SourceTxHash: "0xabc", CreatedAt: now, UpdatedAt: now}
		require.NoError(t, st.CreateTransfer(ctx, tr))

		got, err := st.GetTransfer(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, got.Status)

		err = st.CreateTransfer(ctx, &model.Transfer{ID: "t2", SourceTxHash: "0xabc", CreatedAt: now, UpdatedAt: now})
		assert.Equal(t, store.ErrAlreadyExists, err)
	})
}

func TestBadger_CreateAndGetTransfer(t *testing.T) {
	withEngine(t, DBTypeBadger, func(st *Store) {
		ctx := context.Background()
		now := time.Now()
		tr := &model.Transfer{ID: "t1", Status: model.StatusPending, SourceTxHash: "0xabc", CreatedAt: now, UpdatedAt: now}
		require.NoError(t, st.CreateTransfer(ctx, tr))

		got, err := st.GetTransfer(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, got.Status)
	})
}

func TestLevelDB_UpdateTransferStatusConditional(t *testing.T) {
	withEngine(t, DBTypeLevelDB, func(st *Store) {
		ctx := context.Background()
		now := time.Now()
		require.NoError(t, st.CreateTransfer(ctx, &model.Transfer{ID: "t1", Status: model.StatusPending, CreatedAt: now, UpdatedAt: now}))

		require.NoError(t, st.UpdateTransferStatus(ctx, "t1", model.StatusPending, model.StatusProcessing, nil))
		err := st.UpdateTransferStatus(ctx, "t1", model.StatusPending, model.StatusProcessing, nil)
		assert.Equal(t, store.ErrConflict, err)
	})
}

func TestLevelDB_AllowBlocklistRoundTrip(t *testing.T) {
	withEngine(t, DBTypeLevelDB, func(st *Store) {
		ctx := context.Background()
		require.NoError(t, st.AddToBlocklist(ctx, "0xBAD"))
		ok, err := st.IsBlocklisted(ctx, "0xbad")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, st.RemoveFromBlocklist(ctx, "0xbad"))
		ok, err = st.IsBlocklisted(ctx, "0xBAD")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestLevelDB_EmergencyHaltRoundTrip(t *testing.T) {
	withEngine(t, DBTypeLevelDB, func(st *Store) {
		ctx := context.Background()
		halted, _, err := st.GetEmergencyHalt(ctx)
		require.NoError(t, err)
		assert.False(t, halted)

		require.NoError(t, st.SetEmergencyHalt(ctx, true, "maintenance"))
		halted, reason, err := st.GetEmergencyHalt(ctx)
		require.NoError(t, err)
		assert.True(t, halted)
		assert.Equal(t, "maintenance", reason)
	})
}

func TestLevelDB_CreateFinalizationIdempotent(t *testing.T) {
	withEngine(t, DBTypeLevelDB, func(st *Store) {
		ctx := context.Background()
		f := &model.Finalization{BlockNumber: 5, State: model.FinalizationProposed}
		created, err := st.CreateFinalization(ctx, f)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = st.CreateFinalization(ctx, f)
		require.NoError(t, err)
		assert.False(t, created)
	})
}

func TestLevelDB_TokenMapIncrementTotals(t *testing.T) {
	withEngine(t, DBTypeLevelDB, func(st *Store) {
		ctx := context.Background()
		require.NoError(t, st.CreateTokenMap(ctx, &model.TokenMap{SourceToken: "TOK", TotalDeposited: "0", DailyDeposited: "0"}))
		require.NoError(t, st.IncrementTokenMapTotals(ctx, "TOK", model.DirectionDeposit, "30"))

		tm, err := st.GetTokenMap(ctx, "TOK")
		require.NoError(t, err)
		assert.Equal(t, "30", tm.TotalDeposited)
	})
}
