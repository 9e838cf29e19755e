package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge-x/engine/internal/chainadapter"
	"github.com/chainbridge-x/engine/internal/chainadapter/memadapter"
	"github.com/chainbridge-x/engine/internal/config"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/monitor/transport"
	"github.com/chainbridge-x/engine/internal/store/memstore"
)

type capturingTransport struct {
	mu       sync.Mutex
	messages []transport.Message
}

func (c *capturingTransport) Send(ctx context.Context, m transport.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
	return nil
}

func (c *capturingTransport) Close() error { return nil }

func (c *capturingTransport) titles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.messages {
		out = append(out, m.Title)
	}
	return out
}

func newTestMonitor(t *testing.T, cfg config.MonitorConfig) (*Monitor, *memadapter.Adapter, *memadapter.Adapter, *capturingTransport, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	chainA := memadapter.New(chainadapter.ChainA)
	chainB := memadapter.New(chainadapter.ChainB)
	xport := &capturingTransport{}
	m := New(cfg, time.Minute, st, chainA, chainB, xport)
	return m, chainA, chainB, xport, st
}

func TestCollect_CountsDepositsAndWithdrawalsWithinWindow(t *testing.T) {
	m, _, _, _, st := newTestMonitor(t, config.DefaultConfig.Monitor)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.CreateTransfer(ctx, &model.Transfer{ID: "d1", Direction: model.DirectionDeposit, Status: model.StatusCompleted, CreatedAt: now, UpdatedAt: now, CompletedAt: &now}))
	require.NoError(t, st.CreateTransfer(ctx, &model.Transfer{ID: "w1", Direction: model.DirectionWithdrawal, Status: model.StatusPending, CreatedAt: now, UpdatedAt: now}))
	old := now.Add(-48 * time.Hour)
	require.NoError(t, st.CreateTransfer(ctx, &model.Transfer{ID: "old1", Direction: model.DirectionDeposit, Status: model.StatusCompleted, CreatedAt: old, UpdatedAt: old}))

	snap, err := m.collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.DepositCount)
	assert.Equal(t, 1, snap.WithdrawalCount)
	assert.Equal(t, 0, snap.StuckPending, "w1 was updated just now, well within the stuck threshold")
}

func TestCollect_StuckPendingCountsAgedRowsOnly(t *testing.T) {
	m, _, _, _, st := newTestMonitor(t, config.DefaultConfig.Monitor)
	ctx := context.Background()
	now := time.Now()
	agedCutoff := now.Add(-time.Duration(config.DefaultConfig.Monitor.StuckPendingThresholdMs+1) * time.Millisecond)

	require.NoError(t, st.CreateTransfer(ctx, &model.Transfer{ID: "fresh", Direction: model.DirectionDeposit, Status: model.StatusPending, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, st.CreateTransfer(ctx, &model.Transfer{ID: "aged-pending", Direction: model.DirectionDeposit, Status: model.StatusPending, CreatedAt: agedCutoff, UpdatedAt: agedCutoff}))
	require.NoError(t, st.CreateTransfer(ctx, &model.Transfer{ID: "aged-processing", Direction: model.DirectionWithdrawal, Status: model.StatusProcessing, CreatedAt: agedCutoff, UpdatedAt: agedCutoff}))
	require.NoError(t, st.CreateTransfer(ctx, &model.Transfer{ID: "aged-completed", Direction: model.DirectionDeposit, Status: model.StatusCompleted, CreatedAt: agedCutoff, UpdatedAt: agedCutoff, CompletedAt: &now}))
	veryOld := now.Add(-48 * time.Hour)
	require.NoError(t, st.CreateTransfer(ctx, &model.Transfer{ID: "beyond-24h-window", Direction: model.DirectionDeposit, Status: model.StatusPending, CreatedAt: veryOld, UpdatedAt: veryOld}))

	snap, err := m.collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.StuckPending, "aged-pending, aged-processing and beyond-24h-window are all stuck by age, regardless of the 24h activity window")
}

func TestCollect_ComputesFailureRate(t *testing.T) {
	m, _, _, _, st := newTestMonitor(t, config.DefaultConfig.Monitor)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.CreateTransfer(ctx, &model.Transfer{ID: "ok1", Direction: model.DirectionDeposit, Status: model.StatusCompleted, CreatedAt: now, UpdatedAt: now, CompletedAt: &now}))
	require.NoError(t, st.CreateTransfer(ctx, &model.Transfer{ID: "bad1", Direction: model.DirectionDeposit, Status: model.StatusFailed, RetryCount: 6, CreatedAt: now, UpdatedAt: now}))

	snap, err := m.collect(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, snap.FailureRate, 0.001)
}

func TestSampleOnce_RaisesCriticalAlertOnHighFailureRate(t *testing.T) {
	cfg := config.DefaultConfig.Monitor
	cfg.FailureRateThreshold = 0.1
	m, _, _, xport, st := newTestMonitor(t, cfg)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, st.CreateTransfer(ctx, &model.Transfer{ID: "bad1", Direction: model.DirectionDeposit, Status: model.StatusFailed, RetryCount: 6, CreatedAt: now, UpdatedAt: now}))

	m.sampleOnce(ctx)

	assert.Contains(t, xport.titles(), "transfer failure rate above threshold")
}

func TestRaise_DedupsWithinOneHourWindow(t *testing.T) {
	m, _, _, xport, _ := newTestMonitor(t, config.DefaultConfig.Monitor)
	ctx := context.Background()

	m.raise(ctx, Alert{Severity: SeverityWarning, Title: "dup", Source: "test"})
	m.raise(ctx, Alert{Severity: SeverityWarning, Title: "dup", Source: "test"})

	count := 0
	for _, title := range xport.titles() {
		if title == "dup" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestProbeHealth_NoAlertWhenAdaptersHealthy(t *testing.T) {
	m, _, _, xport, _ := newTestMonitor(t, config.DefaultConfig.Monitor)
	ctx := context.Background()

	m.probeHealth(ctx)

	assert.NotContains(t, xport.titles(), "chain-a adapter unhealthy", "memadapter.Head never errors, so no alert should fire")
}
