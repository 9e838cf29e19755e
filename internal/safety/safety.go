// Package safety implements the Safety Controller of spec §4.2, grounded
// on the teacher's node/sc.BridgeTxPool admission checks (validateTx,
// refusedTxCounter) generalized from a single "known tx / invalid nonce"
// gate into the full fixed-order admission pipeline the spec describes:
// emergency halt -> allowlist -> blocklist -> rate limit -> value cap.
package safety

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pborman/uuid"
	metrics "github.com/rcrowley/go-metrics"
	"golang.org/x/time/rate"

	"github.com/chainbridge-x/engine/internal/bigutil"
	"github.com/chainbridge-x/engine/internal/bridgeerr"
	"github.com/chainbridge-x/engine/internal/cache"
	"github.com/chainbridge-x/engine/internal/config"
	"github.com/chainbridge-x/engine/internal/klog"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/store"
	"github.com/chainbridge-x/engine/internal/tokenmap"
)

var logger = klog.NewModuleLogger(klog.ModuleSafety)

var (
	admittedCounter = metrics.NewRegisteredCounter("safety/admitted", nil)
	rejectedCounter = metrics.NewRegisteredCounter("safety/rejected", nil)
)

// Controller is the C4 Safety Controller: a synchronous admission gate
// plus an asynchronous fraud-detection sweep and an in-memory emergency
// halt flag mirrored to the Store.
type Controller struct {
	cfg    config.SafetyConfig
	st     store.Store
	tokens *tokenmap.Registry
	cache  cache.Cache

	mu          sync.RWMutex
	halted      bool
	haltReason  string

	cooldowns map[string]*rate.Limiter // principal|action -> limiter; not consulted by checkRateLimit
	cdMu      sync.Mutex
}

// New constructs a Controller. Callers must call LoadState once at
// startup to mirror the persisted emergency-halt flag into memory.
func New(cfg config.SafetyConfig, st store.Store, tokens *tokenmap.Registry, c cache.Cache) *Controller {
	return &Controller{
		cfg:       cfg,
		st:        st,
		tokens:    tokens,
		cache:     c,
		cooldowns: make(map[string]*rate.Limiter),
	}
}

// LoadState mirrors the Store's persisted emergency-halt flag into memory,
// so a restart does not silently clear a halt.
func (c *Controller) LoadState(ctx context.Context) error {
	halted, reason, err := c.st.GetEmergencyHalt(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.halted = halted
	c.haltReason = reason
	c.mu.Unlock()
	return nil
}

func normPrincipal(p string) string { return strings.ToLower(strings.TrimSpace(p)) }

// AdmitRequest is the synchronous input to Admit.
type AdmitRequest struct {
	Direction model.Direction
	Principal string
	Token     string
	Value     string
}

// Admit runs the fixed-order admission checks of spec §4.2 and returns
// nil if the request may proceed, or a bridgeerr sentinel-wrapped error
// naming the rejection kind.
func (c *Controller) Admit(ctx context.Context, req AdmitRequest) error {
	c.mu.RLock()
	halted, reason := c.halted, c.haltReason
	c.mu.RUnlock()
	if halted {
		rejectedCounter.Inc(1)
		return fmt.Errorf("%w: %s", bridgeerr.ErrEmergencyHalt, reason)
	}

	principal := normPrincipal(req.Principal)

	allowlisted, err := c.st.IsAllowlisted(ctx, principal)
	if err != nil {
		return fmt.Errorf("%w: %v", bridgeerr.ErrAdapterError, err)
	}
	if !allowlisted {
		blocked, err := c.st.IsBlocklisted(ctx, principal)
		if err != nil {
			return fmt.Errorf("%w: %v", bridgeerr.ErrAdapterError, err)
		}
		if blocked {
			rejectedCounter.Inc(1)
			return fmt.Errorf("%w: %s", bridgeerr.ErrBlocklisted, principal)
		}
	}

	if err := c.checkRateLimit(ctx, principal, string(req.Direction)); err != nil {
		rejectedCounter.Inc(1)
		return err
	}

	if err := c.tokens.CheckValueBounds(req.Token, req.Value); err != nil {
		rejectedCounter.Inc(1)
		return err
	}
	if c.cfg.MaxValuePerTx != "" && c.cfg.MaxValuePerTx != "0" {
		if bigutil.Cmp(req.Value, c.cfg.MaxValuePerTx) > 0 {
			rejectedCounter.Inc(1)
			return fmt.Errorf("%w: exceeds global max_value_per_tx", bridgeerr.ErrValueExceedsCap)
		}
	}
	if c.cfg.DailyCapEnabled {
		if err := c.checkDailyCap(req); err != nil {
			rejectedCounter.Inc(1)
			return err
		}
	}

	admittedCounter.Inc(1)
	return nil
}

func (c *Controller) checkDailyCap(req AdmitRequest) error {
	tm, err := c.tokens.Lookup(req.Token)
	if err != nil {
		return err
	}
	if tm.DailyCap == "" || tm.DailyCap == "0" {
		return nil
	}
	used := tm.DailyDeposited
	if req.Direction == model.DirectionWithdrawal {
		used = tm.DailyWithdrawn
	}
	projected, err := bigutil.Add(used, req.Value)
	if err != nil {
		return nil
	}
	if bigutil.Cmp(projected, tm.DailyCap) > 0 {
		return fmt.Errorf("%w: daily cap exceeded", bridgeerr.ErrValueExceedsCap)
	}
	return nil
}

// checkRateLimit enforces the sliding-window counter of spec §4.2,
// persisted via RateLimitBucket. Once Count exceeds Max the bucket's
// BlockedUntil is set to now+CooldownMs, and requests are rejected until
// then; the cooldowns limiter map is not consulted.
func (c *Controller) checkRateLimit(ctx context.Context, principal, action string) error {
	now := time.Now()
	b, found, err := c.st.GetRateLimitBucket(ctx, principal, action)
	if err != nil {
		return fmt.Errorf("%w: %v", bridgeerr.ErrAdapterError, err)
	}
	if !found || now.Sub(b.WindowStart) > c.cfg.RateLimit.WindowMsDuration() {
		b = &model.RateLimitBucket{Principal: principal, Action: action, Count: 0, WindowStart: now}
	}
	if now.Before(b.BlockedUntil) {
		return fmt.Errorf("%w: cooldown active until %s", bridgeerr.ErrRateLimited, b.BlockedUntil)
	}
	b.Count++
	if b.Count > c.cfg.RateLimit.Max {
		b.BlockedUntil = now.Add(c.cooldown())
		if err := c.st.SaveRateLimitBucket(ctx, b); err != nil {
			return fmt.Errorf("%w: %v", bridgeerr.ErrAdapterError, err)
		}
		return fmt.Errorf("%w: window limit exceeded", bridgeerr.ErrRateLimited)
	}
	if err := c.st.SaveRateLimitBucket(ctx, b); err != nil {
		return fmt.Errorf("%w: %v", bridgeerr.ErrAdapterError, err)
	}
	return nil
}

func (c *Controller) cooldown() time.Duration { return time.Duration(c.cfg.CooldownMs) * time.Millisecond }

// VerifySignature checks sig over msgHash for principal via adapterVerify,
// memoizing the result in Cache for 24h keyed by (msgHash, sig, principal)
// since signature verification is pure given those three inputs.
func (c *Controller) VerifySignature(ctx context.Context, msgHash, sig, principal string, adapterVerify func(context.Context, string, string, string) (bool, error)) (bool, error) {
	key := sigCacheKey(msgHash, sig, principal)
	if c.cache != nil {
		if v, ok := c.cache.Get(ctx, key); ok {
			return len(v) > 0 && v[0] == 1, nil
		}
	}
	ok, err := adapterVerify(ctx, msgHash, sig, principal)
	if err != nil {
		return false, fmt.Errorf("%w: %v", bridgeerr.ErrInvalidSignature, err)
	}
	if c.cache != nil {
		b := []byte{0}
		if ok {
			b = []byte{1}
		}
		c.cache.Set(ctx, key, b, 24*time.Hour, "sig-verify")
	}
	if !ok {
		return false, bridgeerr.ErrInvalidSignature
	}
	return true, nil
}

func sigCacheKey(msgHash, sig, principal string) string {
	h := sha256.Sum256([]byte(msgHash + "|" + sig + "|" + normPrincipal(principal)))
	return "sigverify:" + hex.EncodeToString(h[:])
}

// Halt sets the emergency halt flag, persists it, and is idempotent.
func (c *Controller) Halt(ctx context.Context, reason string) error {
	c.mu.Lock()
	c.halted = true
	c.haltReason = reason
	c.mu.Unlock()
	logger.Error("emergency halt engaged", "reason", reason)
	return c.st.SetEmergencyHalt(ctx, true, reason)
}

// Unhalt clears the emergency halt flag. Per spec §4.2 this must only be
// invoked via an authenticated operator action; authentication itself is
// enforced by the operator surface, not here.
func (c *Controller) Unhalt(ctx context.Context, note string) error {
	c.mu.Lock()
	c.halted = false
	c.haltReason = ""
	c.mu.Unlock()
	logger.Info("emergency halt cleared", "note", note)
	return c.st.SetEmergencyHalt(ctx, false, "")
}

// IsHalted reports the current in-memory halt state.
func (c *Controller) IsHalted() (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.halted, c.haltReason
}

// CheckUnresolvedIncidents halts automatically once unresolved incidents
// reach the configured threshold (spec §4.2).
func (c *Controller) CheckUnresolvedIncidents(ctx context.Context) error {
	n, err := c.st.CountUnresolvedIncidents(ctx)
	if err != nil {
		return err
	}
	if n >= c.cfg.EmergencyThreshold {
		c.mu.RLock()
		already := c.halted
		c.mu.RUnlock()
		if !already {
			return c.Halt(ctx, fmt.Sprintf("unresolved incident threshold reached (%d)", n))
		}
	}
	return nil
}

// RaiseIncident records a durable Incident (spec §3) and re-checks the
// emergency-halt threshold.
func (c *Controller) RaiseIncident(ctx context.Context, kind model.IncidentKind, description, source string, data map[string]interface{}) error {
	inc := &model.Incident{
		ID:          uuid.New(),
		Kind:        kind,
		Description: description,
		Source:      source,
		Data:        data,
		CreatedAt:   time.Now(),
	}
	if err := c.st.CreateIncident(ctx, inc); err != nil {
		return err
	}
	logger.Warn("incident raised", "kind", kind, "source", source, "description", description)
	return c.CheckUnresolvedIncidents(ctx)
}
