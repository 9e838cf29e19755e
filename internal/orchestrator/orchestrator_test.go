package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge-x/engine/internal/chainadapter"
	"github.com/chainbridge-x/engine/internal/chainadapter/memadapter"
	"github.com/chainbridge-x/engine/internal/config"
	"github.com/chainbridge-x/engine/internal/finalization"
	"github.com/chainbridge-x/engine/internal/monitor"
	"github.com/chainbridge-x/engine/internal/monitor/transport"
	"github.com/chainbridge-x/engine/internal/safety"
	"github.com/chainbridge-x/engine/internal/store/memstore"
	"github.com/chainbridge-x/engine/internal/tokenmap"
	"github.com/chainbridge-x/engine/internal/transfer"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	st := memstore.New()
	tokens := tokenmap.New(st)
	sc := safety.New(config.DefaultConfig.Safety, st, tokens, nil)
	chainA := memadapter.New(chainadapter.ChainA)
	chainB := memadapter.New(chainadapter.ChainB)
	cfg := config.DefaultConfig
	cfg.Poll.IntervalMs = 50
	cfg.Finalization.PeriodMs = 50
	cfg.Monitor.SampleIntervalMs = 50

	pipeline := transfer.New(cfg, st, tokens, sc, chainA, chainB)
	finalizer := finalization.New(cfg.Finalization, cfg.Poll.MaxBlocksPerBatch, st, sc, chainB, chainA)
	mon := monitor.New(cfg.Monitor, cfg.Monitor.SampleInterval(), st, chainA, chainB, &transport.Noop{})

	return New(pipeline, finalizer, mon, sc, st, nil)
}

func TestStart_IsIdempotent(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.Stop(ctx))
}

func TestStop_IsIdempotent(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.Stop(ctx))
	require.NoError(t, o.Stop(ctx))
}

func TestStop_WithoutStartIsNoop(t *testing.T) {
	o := newTestOrchestrator(t)
	assert.NoError(t, o.Stop(context.Background()))
}

func TestStop_PersistsHaltState(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.safety.Halt(ctx, "test halt"))
	require.NoError(t, o.Stop(ctx))

	halted, reason, err := o.st.GetEmergencyHalt(ctx)
	require.NoError(t, err)
	assert.True(t, halted)
	assert.Equal(t, "test halt", reason)
}
