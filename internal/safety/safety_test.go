package safety

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge-x/engine/internal/bridgeerr"
	"github.com/chainbridge-x/engine/internal/config"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/store/memstore"
	"github.com/chainbridge-x/engine/internal/tokenmap"
)

func newController(t *testing.T, cfg config.SafetyConfig) (*Controller, *tokenmap.Registry) {
	t.Helper()
	st := memstore.New()
	tokens := tokenmap.New(st)
	require.NoError(t, tokens.Register(context.Background(), &model.TokenMap{
		SourceToken: "TOK", DepositEnabled: true, WithdrawalEnabled: true,
		MinPerTx: "1", MaxPerTx: "1000000",
	}))
	return New(cfg, st, tokens, nil), tokens
}

func TestAdmit_HaltRejectsEverything(t *testing.T) {
	c, _ := newController(t, config.DefaultConfig.Safety)
	ctx := context.Background()
	require.NoError(t, c.Halt(ctx, "maintenance"))

	err := c.Admit(ctx, AdmitRequest{Direction: model.DirectionDeposit, Principal: "0xabc", Token: "TOK", Value: "10"})
	assert.ErrorIs(t, err, bridgeerr.ErrEmergencyHalt)
}

func TestAdmit_BlocklistedPrincipalRejected(t *testing.T) {
	c, _ := newController(t, config.DefaultConfig.Safety)
	ctx := context.Background()
	require.NoError(t, c.st.AddToBlocklist(ctx, "0xbad"))

	err := c.Admit(ctx, AdmitRequest{Direction: model.DirectionDeposit, Principal: "0xBAD", Token: "TOK", Value: "10"})
	assert.ErrorIs(t, err, bridgeerr.ErrBlocklisted)
}

func TestAdmit_AllowlistBypassesBlocklist(t *testing.T) {
	c, _ := newController(t, config.DefaultConfig.Safety)
	ctx := context.Background()
	require.NoError(t, c.st.AddToBlocklist(ctx, "0xboth"))
	require.NoError(t, c.st.AddToAllowlist(ctx, "0xboth"))

	err := c.Admit(ctx, AdmitRequest{Direction: model.DirectionDeposit, Principal: "0xboth", Token: "TOK", Value: "10"})
	assert.NoError(t, err)
}

func TestAdmit_RateLimitTripsAfterMax(t *testing.T) {
	cfg := config.DefaultConfig.Safety
	cfg.RateLimit.Max = 2
	c, _ := newController(t, cfg)
	ctx := context.Background()
	req := AdmitRequest{Direction: model.DirectionDeposit, Principal: "0xrep", Token: "TOK", Value: "10"}

	require.NoError(t, c.Admit(ctx, req))
	require.NoError(t, c.Admit(ctx, req))
	err := c.Admit(ctx, req)
	assert.ErrorIs(t, err, bridgeerr.ErrRateLimited)
}

func TestAdmit_ValueExceedsGlobalCap(t *testing.T) {
	cfg := config.DefaultConfig.Safety
	cfg.MaxValuePerTx = "100"
	c, _ := newController(t, cfg)
	ctx := context.Background()

	err := c.Admit(ctx, AdmitRequest{Direction: model.DirectionDeposit, Principal: "0xabc", Token: "TOK", Value: "500"})
	assert.ErrorIs(t, err, bridgeerr.ErrValueExceedsCap)
}

func TestAdmit_UnknownTokenRejected(t *testing.T) {
	c, _ := newController(t, config.DefaultConfig.Safety)
	ctx := context.Background()

	err := c.Admit(ctx, AdmitRequest{Direction: model.DirectionDeposit, Principal: "0xabc", Token: "NOPE", Value: "10"})
	assert.ErrorIs(t, err, bridgeerr.ErrTokenMapMissing)
}

func TestHaltUnhalt_RoundTrip(t *testing.T) {
	c, _ := newController(t, config.DefaultConfig.Safety)
	ctx := context.Background()

	require.NoError(t, c.Halt(ctx, "incident"))
	halted, reason := c.IsHalted()
	assert.True(t, halted)
	assert.Equal(t, "incident", reason)

	require.NoError(t, c.Unhalt(ctx, "resolved"))
	halted, _ = c.IsHalted()
	assert.False(t, halted)
}

func TestCheckUnresolvedIncidents_AutoHaltsAtThreshold(t *testing.T) {
	cfg := config.DefaultConfig.Safety
	cfg.EmergencyThreshold = 2
	c, _ := newController(t, cfg)
	ctx := context.Background()

	require.NoError(t, c.RaiseIncident(ctx, model.IncidentLargeTransaction, "large tx", "test", nil))
	halted, _ := c.IsHalted()
	assert.False(t, halted)

	require.NoError(t, c.RaiseIncident(ctx, model.IncidentSuspiciousTransaction, "suspicious", "test", nil))
	halted, _ = c.IsHalted()
	assert.True(t, halted)
}

func TestLoadState_RestoresPersistedHalt(t *testing.T) {
	c, _ := newController(t, config.DefaultConfig.Safety)
	ctx := context.Background()
	require.NoError(t, c.st.SetEmergencyHalt(ctx, true, "pre-existing"))

	fresh := New(config.DefaultConfig.Safety, c.st, c.tokens, nil)
	require.NoError(t, fresh.LoadState(ctx))

	halted, reason := fresh.IsHalted()
	assert.True(t, halted)
	assert.Equal(t, "pre-existing", reason)
}
