// Package monitor implements the periodic health sampler and alerting of
// spec §4.4/§6 (C7), grounded on the teacher's
// datasync/chaindatafetcher.ChainDataFetcher periodic metrics
// (rcrowley/go-metrics gauges) and its kafka.repository Publish pattern,
// generalized into a pluggable transport (kafka/webhook/noop) for
// dispatching alerts rather than raw chain data.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/chainbridge-x/engine/internal/chainadapter"
	"github.com/chainbridge-x/engine/internal/config"
	"github.com/chainbridge-x/engine/internal/klog"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/monitor/transport"
	"github.com/chainbridge-x/engine/internal/store"
)

var logger = klog.NewModuleLogger(klog.ModuleMonitor)

var (
	gaugeFailureRate    = metrics.NewRegisteredGaugeFloat64("monitor/failure_rate", nil)
	gaugeAvgProcessTime = metrics.NewRegisteredGauge("monitor/avg_process_ms", nil)
	gaugeStuckPending   = metrics.NewRegisteredGauge("monitor/stuck_pending", nil)
)

// Severity of a raised alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a threshold breach reported to the configured transport.
type Alert struct {
	Severity  Severity
	Title     string
	Source    string
	Detail    map[string]interface{}
	CreatedAt time.Time
}

// Monitor periodically samples system state, raises Alerts on threshold
// breach (deduplicated within a one-hour window), and probes adapter/
// store health.
type Monitor struct {
	cfg   config.MonitorConfig
	st    store.Store
	chainA, chainB chainadapter.Adapter
	xport transport.Transport

	interval time.Duration

	mu         sync.Mutex
	lastAlert  map[string]time.Time

	wg       sync.WaitGroup
	quit     chan struct{}
	quitOnce sync.Once
}

// New constructs a Monitor.
func New(cfg config.MonitorConfig, interval time.Duration, st store.Store, chainA, chainB chainadapter.Adapter, xport transport.Transport) *Monitor {
	return &Monitor{
		cfg: cfg, interval: interval, st: st,
		chainA: chainA, chainB: chainB, xport: xport,
		lastAlert: make(map[string]time.Time),
		quit:      make(chan struct{}),
	}
}

// Start launches the sampling loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.runSampleLoop(ctx)
}

// Stop signals the sampling loop to exit and waits, bounded by timeout.
func (m *Monitor) Stop(timeout time.Duration) error {
	m.quitOnce.Do(func() { close(m.quit) })
	done := make(chan struct{})
	go func() { m.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("monitor: did not stop within %s", timeout)
	}
}

func (m *Monitor) runSampleLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce(ctx)
		}
	}
}

func (m *Monitor) sampleOnce(ctx context.Context) {
	snap, err := m.collect(ctx)
	if err != nil {
		logger.Error("sample collection failed", "err", err)
		return
	}

	gaugeFailureRate.Update(snap.FailureRate)
	gaugeAvgProcessTime.Update(snap.AvgProcessingTimeMs)
	gaugeStuckPending.Update(int64(snap.StuckPending))

	logger.Info("status summary",
		"deposits", snap.DepositCount, "withdrawals", snap.WithdrawalCount,
		"failure_rate", snap.FailureRate, "avg_process_ms", snap.AvgProcessingTimeMs,
		"finalized", snap.FinalizedCount, "challenged", snap.ChallengedCount, "invalidated", snap.InvalidatedCount)

	if snap.FailureRate > m.cfg.FailureRateThreshold {
		m.raise(ctx, Alert{Severity: SeverityCritical, Title: "transfer failure rate above threshold", Source: "monitor",
			Detail: map[string]interface{}{"failure_rate": snap.FailureRate, "threshold": m.cfg.FailureRateThreshold}})
	}
	if snap.AvgProcessingTimeMs > m.cfg.AvgProcessingTimeThresholdMs {
		m.raise(ctx, Alert{Severity: SeverityWarning, Title: "average processing time above threshold", Source: "monitor",
			Detail: map[string]interface{}{"avg_ms": snap.AvgProcessingTimeMs, "threshold_ms": m.cfg.AvgProcessingTimeThresholdMs}})
	}
	if snap.StuckPending > 0 {
		m.raise(ctx, Alert{Severity: SeverityWarning, Title: "stuck pending transfers detected", Source: "monitor",
			Detail: map[string]interface{}{"count": snap.StuckPending, "older_than_ms": m.cfg.StuckPendingThresholdMs}})
	}
	if snap.ChallengedCount > 0 {
		m.raise(ctx, Alert{Severity: SeverityWarning, Title: "open finalization challenges", Source: "monitor",
			Detail: map[string]interface{}{"count": snap.ChallengedCount}})
	}
	if snap.InvalidatedCount > 0 {
		m.raise(ctx, Alert{Severity: SeverityCritical, Title: "invalidated finalizations", Source: "monitor",
			Detail: map[string]interface{}{"count": snap.InvalidatedCount}})
	}

	m.probeHealth(ctx)
}

// raise dedups identical (severity, title, source) alerts within the
// last hour before dispatching to the transport (spec §4.4 alert dedup).
func (m *Monitor) raise(ctx context.Context, a Alert) {
	key := fmt.Sprintf("%s|%s|%s", a.Severity, a.Title, a.Source)
	m.mu.Lock()
	last, seen := m.lastAlert[key]
	if seen && time.Since(last) < time.Hour {
		m.mu.Unlock()
		return
	}
	m.lastAlert[key] = time.Now()
	m.mu.Unlock()

	a.CreatedAt = time.Now()
	if err := m.xport.Send(ctx, transport.Message{
		Severity: string(a.Severity), Title: a.Title, Source: a.Source, Detail: a.Detail, At: a.CreatedAt,
	}); err != nil {
		logger.Error("alert dispatch failed", "title", a.Title, "err", err)
	}
}

func (m *Monitor) probeHealth(ctx context.Context) {
	if _, err := m.chainA.Head(ctx); err != nil {
		m.raise(ctx, Alert{Severity: SeverityCritical, Title: "chain-a adapter unhealthy", Source: "monitor", Detail: map[string]interface{}{"err": err.Error()}})
	}
	if _, err := m.chainB.Head(ctx); err != nil {
		m.raise(ctx, Alert{Severity: SeverityCritical, Title: "chain-b adapter unhealthy", Source: "monitor", Detail: map[string]interface{}{"err": err.Error()}})
	}
}

// Snapshot is the sampled state of one monitor tick (spec §4.4).
type Snapshot struct {
	DepositCount, WithdrawalCount int
	FailureRate                   float64
	AvgProcessingTimeMs           int64
	StuckPending                  int
	FinalizedCount, ChallengedCount, InvalidatedCount int
}

func (m *Monitor) collect(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	deposits, err := m.st.ListTransfers(ctx, store.TransferFilter{})
	if err != nil {
		return snap, err
	}

	since := time.Now().Add(-24 * time.Hour)
	stuckCutoff := time.Now().Add(-time.Duration(m.cfg.StuckPendingThresholdMs) * time.Millisecond)
	var totalMs int64
	var completed, failed, processedTotal int
	for _, t := range deposits {
		// Stuck-pending is an age check (spec §4.4: PENDING/PROCESSING
		// rows older than the monitor's StuckPendingThresholdMs), evaluated over every row
		// regardless of the 24h activity window below so a transfer
		// stuck longer than 24h isn't dropped from the count.
		if (t.Status == model.StatusPending || t.Status == model.StatusProcessing) && t.UpdatedAt.Before(stuckCutoff) {
			snap.StuckPending++
		}

		if t.CreatedAt.Before(since) {
			continue
		}
		if t.Direction == model.DirectionDeposit {
			snap.DepositCount++
		} else {
			snap.WithdrawalCount++
		}
		switch t.Status {
		case model.StatusCompleted:
			completed++
			processedTotal++
			if t.CompletedAt != nil {
				totalMs += t.CompletedAt.Sub(t.CreatedAt).Milliseconds()
			}
		case model.StatusFailed:
			if t.RetryCount > 0 {
				failed++
				processedTotal++
			}
		}
	}
	if processedTotal > 0 {
		snap.FailureRate = float64(failed) / float64(processedTotal)
	}
	if completed > 0 {
		snap.AvgProcessingTimeMs = totalMs / int64(completed)
	}

	for _, state := range []model.FinalizationState{model.FinalizationFinalized, model.FinalizationChallenged, model.FinalizationInvalidated} {
		fs, err := m.st.ListFinalizationsByState(ctx, state, 0)
		if err != nil {
			return snap, err
		}
		switch state {
		case model.FinalizationFinalized:
			snap.FinalizedCount = len(fs)
		case model.FinalizationChallenged:
			snap.ChallengedCount = len(fs)
		case model.FinalizationInvalidated:
			snap.InvalidatedCount = len(fs)
		}
	}

	return snap, nil
}
