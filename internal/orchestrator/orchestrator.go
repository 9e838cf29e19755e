// Package orchestrator implements the lifecycle owner of spec §4 (C8),
// grounded on the teacher's node/sc.SubBridge Start/Stop shape: a single
// object that owns every subordinate component and tears them down in
// reverse order, generalized here from p2p peer lifecycle (out of scope
// for this engine, see DESIGN.md) to the Transfer Pipeline, Finalization
// Engine and Monitor.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainbridge-x/engine/internal/cache"
	"github.com/chainbridge-x/engine/internal/finalization"
	"github.com/chainbridge-x/engine/internal/klog"
	"github.com/chainbridge-x/engine/internal/monitor"
	"github.com/chainbridge-x/engine/internal/safety"
	"github.com/chainbridge-x/engine/internal/store"
	"github.com/chainbridge-x/engine/internal/transfer"
)

var logger = klog.NewModuleLogger(klog.ModuleOrchestrator)

// DrainTimeout bounds how long Stop waits for each subordinate
// component's worker pool to drain before giving up.
const DrainTimeout = 30 * time.Second

// Orchestrator owns the Transfer Pipeline, Finalization Engine and
// Monitor and exposes an idempotent Start/Stop lifecycle.
type Orchestrator struct {
	pipeline    *transfer.Pipeline
	finalizer   *finalization.Engine
	mon         *monitor.Monitor
	safety      *safety.Controller
	st          store.Store
	cache       cache.Cache

	mu      sync.Mutex
	started bool
	stopped bool
}

// New constructs an Orchestrator over already-wired components.
func New(pipeline *transfer.Pipeline, finalizer *finalization.Engine, mon *monitor.Monitor, sc *safety.Controller, st store.Store, c cache.Cache) *Orchestrator {
	return &Orchestrator{pipeline: pipeline, finalizer: finalizer, mon: mon, safety: sc, st: st, cache: c}
}

// Start is idempotent: a second call is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}
	if err := o.safety.LoadState(ctx); err != nil {
		return fmt.Errorf("orchestrator: safety state load failed: %w", err)
	}
	o.pipeline.Start(ctx)
	o.finalizer.Start(ctx)
	o.mon.Start(ctx)
	o.started = true
	logger.Info("orchestrator started")
	return nil
}

// Stop is idempotent: a second call is a no-op. Each component is given
// up to DrainTimeout to finish in-flight work before Stop returns an
// error (the caller decides whether to force-exit anyway).
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped || !o.started {
		o.stopped = true
		return nil
	}

	var errs []error
	if err := o.mon.Stop(DrainTimeout); err != nil {
		errs = append(errs, err)
	}
	if err := o.finalizer.Stop(DrainTimeout); err != nil {
		errs = append(errs, err)
	}
	if err := o.pipeline.Stop(DrainTimeout); err != nil {
		errs = append(errs, err)
	}

	halted, reason := o.safety.IsHalted()
	if err := o.st.SetEmergencyHalt(ctx, halted, reason); err != nil {
		errs = append(errs, err)
	}

	if o.cache != nil {
		if err := o.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := o.st.Close(); err != nil {
		errs = append(errs, err)
	}

	o.stopped = true
	if len(errs) > 0 {
		logger.Error("orchestrator stop completed with errors", "count", len(errs))
		return fmt.Errorf("orchestrator: stop errors: %v", errs)
	}
	logger.Info("orchestrator stopped")
	return nil
}
