package sqlstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge-x/engine/internal/model"
)

// These cover the row <-> model mapping and error classification that
// don't need a live MySQL connection; CRUD methods themselves require one
// and have no test here (DESIGN.md notes the same Store contract is
// covered by the kvstore and memstore tests).

func TestFromTransfer_EncodesMetadataAsJSON(t *testing.T) {
	now := time.Now()
	tr := &model.Transfer{
		ID: "t1", Direction: model.DirectionDeposit, Status: model.StatusPending,
		Value: "100", CreatedAt: now, UpdatedAt: now,
		Metadata: map[string]interface{}{"note": "test"},
	}
	row, err := fromTransfer(tr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"note":"test"}`, row.MetadataJSON)
}

func TestFromTransfer_EmptyMetadataDefaultsToEmptyObject(t *testing.T) {
	now := time.Now()
	tr := &model.Transfer{ID: "t1", CreatedAt: now, UpdatedAt: now}
	row, err := fromTransfer(tr)
	require.NoError(t, err)
	assert.Equal(t, "{}", row.MetadataJSON)
}

func TestTransferRow_ToModel_RoundTrips(t *testing.T) {
	now := time.Now()
	tr := &model.Transfer{
		ID: "t1", Direction: model.DirectionWithdrawal, Status: model.StatusConfirming,
		SourceToken: "TOK", Value: "42", CreatedAt: now, UpdatedAt: now,
		Metadata: map[string]interface{}{"k": "v"},
	}
	row, err := fromTransfer(tr)
	require.NoError(t, err)

	back, err := row.toModel()
	require.NoError(t, err)
	assert.Equal(t, tr.ID, back.ID)
	assert.Equal(t, tr.Direction, back.Direction)
	assert.Equal(t, tr.Status, back.Status)
	assert.Equal(t, tr.Value, back.Value)
	assert.Equal(t, "v", back.Metadata["k"])
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, isDuplicateKeyErr(errors.New("Error 1062: Duplicate entry 'x' for key 'source_tx_hash'")))
	assert.False(t, isDuplicateKeyErr(errors.New("connection refused")))
	assert.False(t, isDuplicateKeyErr(nil))
}

func TestNormPrincipal_LowercasesAndTrims(t *testing.T) {
	assert.Equal(t, "0xabc", normPrincipal("  0xABC  "))
}
