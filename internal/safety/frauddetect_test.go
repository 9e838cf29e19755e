package safety

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge-x/engine/internal/config"
	"github.com/chainbridge-x/engine/internal/model"
)

func TestRunFraudSweep_FlagsInvalidStateTransition(t *testing.T) {
	c, _ := newController(t, config.DefaultConfig.Safety)
	ctx := context.Background()

	require.NoError(t, c.st.AppendTransitionJournal(ctx, &model.TransitionJournalEntry{
		TransferID: "t1", From: model.StatusCompleted, To: model.StatusPending, At: time.Now(),
	}))

	require.NoError(t, c.RunFraudSweep(ctx, "0"))

	count, err := c.st.CountUnresolvedIncidents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunFraudSweep_FlagsSuspiciousActivity(t *testing.T) {
	c, _ := newController(t, config.DefaultConfig.Safety)
	ctx := context.Background()

	for i := 0; i < FraudSweepSuspiciousMax+1; i++ {
		require.NoError(t, c.st.CreateTransfer(ctx, &model.Transfer{
			ID: intID(i), SourceAddress: "0xrepeat", Value: "1",
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}))
	}

	require.NoError(t, c.RunFraudSweep(ctx, "0"))

	incidents, err := c.st.ListIncidents(ctx, true, 10)
	require.NoError(t, err)
	found := false
	for _, inc := range incidents {
		if inc.Kind == model.IncidentSuspiciousTransaction {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunFraudSweep_FlagsLargeTransaction(t *testing.T) {
	c, _ := newController(t, config.DefaultConfig.Safety)
	ctx := context.Background()

	require.NoError(t, c.st.CreateTransfer(ctx, &model.Transfer{
		ID: "big1", SourceAddress: "0xwhale", Value: "1000000",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	require.NoError(t, c.RunFraudSweep(ctx, "1000"))

	incidents, err := c.st.ListIncidents(ctx, true, 10)
	require.NoError(t, err)
	found := false
	for _, inc := range incidents {
		if inc.Kind == model.IncidentLargeTransaction {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunFraudSweep_ZeroThresholdDisablesLargeTxCheck(t *testing.T) {
	c, _ := newController(t, config.DefaultConfig.Safety)
	ctx := context.Background()
	require.NoError(t, c.st.CreateTransfer(ctx, &model.Transfer{
		ID: "big1", SourceAddress: "0xwhale", Value: "1000000",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	require.NoError(t, c.RunFraudSweep(ctx, "0"))

	count, err := c.st.CountUnresolvedIncidents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func intID(i int) string {
	return "t" + string(rune('a'+i))
}
