// Package klog provides the structured, key-value logger used across every
// component of the bridge. The call convention (logger.Info("msg", "key",
// value, ...)) mirrors the module logger used throughout the klaytn
// service-chain bridge (node/sc, storage/database, datasync/chaindatafetcher),
// backed here by go.uber.org/zap's SugaredLogger.
package klog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module names, one per subsystem, mirroring the teacher's log.ModuleXXX
// constants (log.StorageDatabase, log.ChainDataFetcher, log.Common, ...).
const (
	ModuleTransfer      = "transfer"
	ModuleFinalization  = "finalization"
	ModuleSafety        = "safety"
	ModuleMonitor       = "monitor"
	ModuleOrchestrator  = "orchestrator"
	ModuleStore         = "store"
	ModuleCache         = "cache"
	ModuleTokenMap      = "tokenmap"
	ModuleChainAdapter  = "chainadapter"
	ModuleOperator      = "operator"
	ModuleConfig        = "config"
)

var (
	baseOnce sync.Once
	base     *zap.Logger
)

func rootLogger() *zap.Logger {
	baseOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		l, err := cfg.Build()
		if err != nil {
			// Logging itself must never take the process down; fall back to a
			// no-op core rather than panic during package init.
			l = zap.NewNop()
		}
		base = l
	})
	return base
}

// Logger is the module-scoped logger handed to every component.
type Logger struct {
	module string
	s      *zap.SugaredLogger
}

// NewModuleLogger returns a logger tagged with the given module name.
func NewModuleLogger(module string) *Logger {
	return &Logger{module: module, s: rootLogger().Sugar().With("module", module)}
}

func (l *Logger) Trace(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *Logger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

// Crit logs at error level and terminates the process. Reserved for
// internal_invariant violations (spec §7) that must fail fast rather than
// corrupt durable state.
func (l *Logger) Crit(msg string, kv ...interface{}) {
	l.s.Errorw(msg, kv...)
	_ = l.s.Sync()
	os.Exit(1)
}
