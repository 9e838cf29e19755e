package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/store"
)

func newTransfer(id, srcTxHash string) *model.Transfer {
	return &model.Transfer{
		ID: id, Direction: model.DirectionDeposit, Status: model.StatusPending,
		SourceTxHash: srcTxHash, Value: "100",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
}

func TestCreateTransfer_RejectsDuplicateSourceTxHash(t *testing.T) {
	st := New()
	ctx := context.Background()

	require.NoError(t, st.CreateTransfer(ctx, newTransfer("t1", "0xabc")))
	err := st.CreateTransfer(ctx, newTransfer("t2", "0xabc"))
	assert.Equal(t, store.ErrAlreadyExists, err)
}

func TestGetTransferBySourceTxHash(t *testing.T) {
	st := New()
	ctx := context.Background()
	require.NoError(t, st.CreateTransfer(ctx, newTransfer("t1", "0xabc")))

	got, err := st.GetTransferBySourceTxHash(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)

	_, err = st.GetTransferBySourceTxHash(ctx, "0xmissing")
	assert.Equal(t, store.ErrNotFound, err)
}

func TestUpdateTransferStatus_ConditionalUpdateSucceeds(t *testing.T) {
	st := New()
	ctx := context.Background()
	require.NoError(t, st.CreateTransfer(ctx, newTransfer("t1", "0xabc")))

	err := st.UpdateTransferStatus(ctx, "t1", model.StatusPending, model.StatusProcessing, nil)
	require.NoError(t, err)

	got, err := st.GetTransfer(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
}

func TestUpdateTransferStatus_ConflictOnStaleExpected(t *testing.T) {
	st := New()
	ctx := context.Background()
	require.NoError(t, st.CreateTransfer(ctx, newTransfer("t1", "0xabc")))
	require.NoError(t, st.UpdateTransferStatus(ctx, "t1", model.StatusPending, model.StatusProcessing, nil))

	err := st.UpdateTransferStatus(ctx, "t1", model.StatusPending, model.StatusProcessing, nil)
	assert.Equal(t, store.ErrConflict, err)
}

func TestUpdateTransferStatus_AppendsJournalEntry(t *testing.T) {
	st := New()
	ctx := context.Background()
	require.NoError(t, st.CreateTransfer(ctx, newTransfer("t1", "0xabc")))
	require.NoError(t, st.UpdateTransferStatus(ctx, "t1", model.StatusPending, model.StatusProcessing, nil))

	entries, err := st.ReadTransitionJournal(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.StatusPending, entries[0].From)
	assert.Equal(t, model.StatusProcessing, entries[0].To)
}

func TestListPendingTransfers_FIFOByDirection(t *testing.T) {
	st := New()
	ctx := context.Background()
	t1 := newTransfer("t1", "0x1")
	t1.CreatedAt = time.Now().Add(-2 * time.Minute)
	t2 := newTransfer("t2", "0x2")
	t2.CreatedAt = time.Now().Add(-1 * time.Minute)
	t3 := newTransfer("t3", "0x3")
	t3.Direction = model.DirectionWithdrawal

	require.NoError(t, st.CreateTransfer(ctx, t1))
	require.NoError(t, st.CreateTransfer(ctx, t2))
	require.NoError(t, st.CreateTransfer(ctx, t3))

	pending, err := st.ListPendingTransfers(ctx, model.DirectionDeposit, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "t1", pending[0].ID)
	assert.Equal(t, "t2", pending[1].ID)
}

func TestListPendingTransfers_ExcludesFutureRetry(t *testing.T) {
	st := New()
	ctx := context.Background()
	t1 := newTransfer("t1", "0x1")
	future := time.Now().Add(1 * time.Hour)
	t1.NextRetryTime = &future
	require.NoError(t, st.CreateTransfer(ctx, t1))

	pending, err := st.ListPendingTransfers(ctx, model.DirectionDeposit, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 0)
}

func TestLastScanned_DefaultsToNotFound(t *testing.T) {
	st := New()
	ctx := context.Background()

	_, ok, err := st.GetLastScanned(ctx, model.DirectionDeposit)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.SetLastScanned(ctx, model.DirectionDeposit, 42))
	n, ok, err := st.GetLastScanned(ctx, model.DirectionDeposit)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), n)
}

func TestCreateFinalization_IdempotentOnBlockNumber(t *testing.T) {
	st := New()
	ctx := context.Background()
	f := &model.Finalization{BlockNumber: 10, State: model.FinalizationProposed}

	created, err := st.CreateFinalization(ctx, f)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = st.CreateFinalization(ctx, f)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestUpdateFinalizationState_ConflictOnStaleExpected(t *testing.T) {
	st := New()
	ctx := context.Background()
	f := &model.Finalization{BlockNumber: 10, State: model.FinalizationProposed}
	_, err := st.CreateFinalization(ctx, f)
	require.NoError(t, err)

	require.NoError(t, st.UpdateFinalizationState(ctx, 10, model.FinalizationProposed, model.FinalizationFinalized, nil))
	err = st.UpdateFinalizationState(ctx, 10, model.FinalizationProposed, model.FinalizationFinalized, nil)
	assert.Equal(t, store.ErrConflict, err)
}

func TestAllowBlockList(t *testing.T) {
	st := New()
	ctx := context.Background()

	ok, err := st.IsBlocklisted(ctx, "0xBAD")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.AddToBlocklist(ctx, "0xBAD"))
	ok, err = st.IsBlocklisted(ctx, "0xbad")
	require.NoError(t, err)
	assert.True(t, ok, "blocklist membership check should be case-insensitive")

	require.NoError(t, st.RemoveFromBlocklist(ctx, "0xBAD"))
	ok, err = st.IsBlocklisted(ctx, "0xBAD")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrementTokenMapTotals(t *testing.T) {
	st := New()
	ctx := context.Background()
	require.NoError(t, st.CreateTokenMap(ctx, &model.TokenMap{SourceToken: "TOK", TotalDeposited: "0", DailyDeposited: "0"}))

	require.NoError(t, st.IncrementTokenMapTotals(ctx, "TOK", model.DirectionDeposit, "50"))
	require.NoError(t, st.IncrementTokenMapTotals(ctx, "TOK", model.DirectionDeposit, "25"))

	tm, err := st.GetTokenMap(ctx, "TOK")
	require.NoError(t, err)
	assert.Equal(t, "75", tm.TotalDeposited)
	assert.Equal(t, "75", tm.DailyDeposited)
}

func TestCountUnresolvedIncidents(t *testing.T) {
	st := New()
	ctx := context.Background()
	require.NoError(t, st.CreateIncident(ctx, &model.Incident{Kind: model.IncidentLargeTransaction, CreatedAt: time.Now()}))
	require.NoError(t, st.CreateIncident(ctx, &model.Incident{Kind: model.IncidentDoubleSpendAttempt, CreatedAt: time.Now()}))

	count, err := st.CountUnresolvedIncidents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	incidents, err := st.ListIncidents(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	require.NoError(t, st.ResolveIncident(ctx, incidents[0].ID, "operator", "false positive"))

	count, err = st.CountUnresolvedIncidents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
