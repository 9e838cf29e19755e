// Package config loads the engine configuration described in spec §6,
// following the klaytn convention of a single TOML-decodable struct with
// a DefaultConfig value and a sanitize-on-load pass (node/sc/bridge_tx_pool.go
// BridgeTxPoolConfig.sanitize, cmd/utils/nodecmd/dumpconfigcmd.go tomlSettings).
package config

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"time"
	"unicode"

	"github.com/naoina/toml"

	"github.com/chainbridge-x/engine/internal/klog"
)

var logger = klog.NewModuleLogger(klog.ModuleConfig)

// tomlSettings mirrors the teacher's field-name convention: TOML keys are
// the literal Go field names, and unknown fields are a hard error.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see %s#%s", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// PoolConfig sizes the worker pools driving the transfer pipeline (spec
// §6 pool.*).
type PoolConfig struct {
	DepositWorkers     int
	WithdrawalWorkers  int
	FinalizationWorkers int
}

// PollConfig governs the ingestion pollers (spec §6 poll.*).
type PollConfig struct {
	IntervalMs        int64
	BatchSize         int
	MaxBlocksPerBatch uint64
}

// RetryConfig governs FAILED -> PENDING retry scheduling (spec §6 retry.*).
type RetryConfig struct {
	Max      int
	DelayMs  int64
}

// ConfirmationsConfig sets the required confirmation depth on each chain
// (spec §6 confirmations.*).
type ConfirmationsConfig struct {
	Source uint64
	Target uint64
}

// FinalizationConfig governs the optimistic finalization loop (spec §6
// finalization.*).
type FinalizationConfig struct {
	PeriodMs         int64
	ChallengeWindowS int64
}

// PeriodMsDuration returns PeriodMs as a time.Duration.
func (f FinalizationConfig) PeriodMsDuration() time.Duration {
	return time.Duration(f.PeriodMs) * time.Millisecond
}

// ChallengeWindowSDuration returns ChallengeWindowS as a time.Duration.
func (f FinalizationConfig) ChallengeWindowSDuration() time.Duration {
	return time.Duration(f.ChallengeWindowS) * time.Second
}

// RateLimitConfig governs the Safety Controller's sliding-window limiter
// (spec §6 safety.rate_limit.*).
type RateLimitConfig struct {
	WindowMs int64
	Max      int
}

// WindowMsDuration returns WindowMs as a time.Duration.
func (r RateLimitConfig) WindowMsDuration() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// SafetyConfig groups all safety.* keys of spec §6.
type SafetyConfig struct {
	RateLimit          RateLimitConfig
	CooldownMs         int64
	MaxValuePerTx      string
	DailyCapEnabled    bool
	EmergencyThreshold int
}

// MonitorConfig groups the alert thresholds of spec §6 monitor.*.
type MonitorConfig struct {
	FailureRateThreshold        float64
	AvgProcessingTimeThresholdMs int64
	StuckPendingThresholdMs     int64
	SampleIntervalMs            int64
}

// SampleInterval returns monitor.sample_interval_ms as a time.Duration.
func (m MonitorConfig) SampleInterval() time.Duration {
	return time.Duration(m.SampleIntervalMs) * time.Millisecond
}

// StorageConfig selects and configures the persistence backend (spec §6
// storage.*), mirroring storage/database.DBConfig's DBType switch.
type StorageConfig struct {
	Backend string // "memory", "leveldb", "badger", "mysql"
	DataDir string
	MySQLDSN string
}

// ChainEndpointConfig describes how to reach and sign for one side of the
// bridge (spec §6 chain_a.* / chain_b.*).
type ChainEndpointConfig struct {
	RPCEndpoint    string
	ContractAddress string
	KeyfilePath    string
	KeyfilePass    string
}

// TransportConfig selects the Monitor's alert sink (spec §6 monitor.transport.*).
type TransportConfig struct {
	Kind          string // "noop", "kafka", "webhook"
	KafkaBrokers  []string
	KafkaTopicPrefix string
	WebhookURL    string
}

// OperatorConfig configures the operator HTTP surface (spec §6 operator.*).
type OperatorConfig struct {
	ListenAddr string
	AuthToken  string
}

// Config is the root configuration object, one field group per spec §6
// namespace, decoded from TOML by Load; no environment variables are read.
type Config struct {
	StuckThresholdMs int64

	Pool          PoolConfig
	Poll          PollConfig
	Retry         RetryConfig
	Confirmations ConfirmationsConfig
	Finalization  FinalizationConfig
	Safety        SafetyConfig
	Monitor       MonitorConfig
	Storage       StorageConfig
	ChainA        ChainEndpointConfig
	ChainB        ChainEndpointConfig
	Transport     TransportConfig
	Operator      OperatorConfig
}

// DefaultConfig mirrors klaytn's DefaultBridgeTxPoolConfig pattern: every
// field has a reasonable, explicit value that sanitize() falls back to.
var DefaultConfig = Config{
	StuckThresholdMs: 10 * 60 * 1000,
	Pool: PoolConfig{
		DepositWorkers:      4,
		WithdrawalWorkers:   4,
		FinalizationWorkers: 2,
	},
	Poll: PollConfig{
		IntervalMs:        3000,
		BatchSize:         100,
		MaxBlocksPerBatch: 2000,
	},
	Retry: RetryConfig{
		Max:     5,
		DelayMs: 30000,
	},
	Confirmations: ConfirmationsConfig{
		Source: 12,
		Target: 12,
	},
	Finalization: FinalizationConfig{
		PeriodMs:         60000,
		ChallengeWindowS: 3600,
	},
	Safety: SafetyConfig{
		RateLimit: RateLimitConfig{
			WindowMs: 60000,
			Max:      100,
		},
		CooldownMs:         5000,
		MaxValuePerTx:      "0",
		DailyCapEnabled:    false,
		EmergencyThreshold: 5,
	},
	Monitor: MonitorConfig{
		FailureRateThreshold:         0.1,
		AvgProcessingTimeThresholdMs: 300000,
		StuckPendingThresholdMs:      600000,
		SampleIntervalMs:             30000,
	},
	Storage: StorageConfig{
		Backend: "memory",
		DataDir: "./data",
	},
	Transport: TransportConfig{
		Kind: "noop",
	},
	Operator: OperatorConfig{
		ListenAddr: "127.0.0.1:8585",
	},
}

// Load reads a TOML file into a copy of DefaultConfig and sanitizes it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		if _, ok := err.(*toml.LineError); ok {
			return nil, fmt.Errorf("%s, %s", path, err)
		}
		return nil, err
	}
	cfg = cfg.Sanitize()
	return &cfg, nil
}

// Sanitize checks the provided configuration and replaces anything
// unreasonable or unworkable with the corresponding DefaultConfig value,
// logging each correction (node/sc/bridge_tx_pool.go sanitize).
func (c Config) Sanitize() Config {
	conf := c

	if conf.Pool.DepositWorkers < 1 {
		logger.Error("sanitizing invalid pool.deposit_workers", "provided", conf.Pool.DepositWorkers, "updated", DefaultConfig.Pool.DepositWorkers)
		conf.Pool.DepositWorkers = DefaultConfig.Pool.DepositWorkers
	}
	if conf.Pool.WithdrawalWorkers < 1 {
		logger.Error("sanitizing invalid pool.withdrawal_workers", "provided", conf.Pool.WithdrawalWorkers, "updated", DefaultConfig.Pool.WithdrawalWorkers)
		conf.Pool.WithdrawalWorkers = DefaultConfig.Pool.WithdrawalWorkers
	}
	if conf.Pool.FinalizationWorkers < 1 {
		logger.Error("sanitizing invalid pool.finalization_workers", "provided", conf.Pool.FinalizationWorkers, "updated", DefaultConfig.Pool.FinalizationWorkers)
		conf.Pool.FinalizationWorkers = DefaultConfig.Pool.FinalizationWorkers
	}
	if conf.Poll.IntervalMs < 100 {
		logger.Error("sanitizing invalid poll.interval_ms", "provided", conf.Poll.IntervalMs, "updated", DefaultConfig.Poll.IntervalMs)
		conf.Poll.IntervalMs = DefaultConfig.Poll.IntervalMs
	}
	if conf.Poll.BatchSize < 1 {
		logger.Error("sanitizing invalid poll.batch_size", "provided", conf.Poll.BatchSize, "updated", DefaultConfig.Poll.BatchSize)
		conf.Poll.BatchSize = DefaultConfig.Poll.BatchSize
	}
	if conf.Poll.MaxBlocksPerBatch < 1 {
		logger.Error("sanitizing invalid poll.max_blocks_per_batch", "provided", conf.Poll.MaxBlocksPerBatch, "updated", DefaultConfig.Poll.MaxBlocksPerBatch)
		conf.Poll.MaxBlocksPerBatch = DefaultConfig.Poll.MaxBlocksPerBatch
	}
	if conf.Retry.Max < 0 {
		logger.Error("sanitizing invalid retry.max", "provided", conf.Retry.Max, "updated", DefaultConfig.Retry.Max)
		conf.Retry.Max = DefaultConfig.Retry.Max
	}
	if conf.Retry.DelayMs < 0 {
		logger.Error("sanitizing invalid retry.delay_ms", "provided", conf.Retry.DelayMs, "updated", DefaultConfig.Retry.DelayMs)
		conf.Retry.DelayMs = DefaultConfig.Retry.DelayMs
	}
	if conf.StuckThresholdMs < 1000 {
		logger.Error("sanitizing invalid stuck.threshold_ms", "provided", conf.StuckThresholdMs, "updated", DefaultConfig.StuckThresholdMs)
		conf.StuckThresholdMs = DefaultConfig.StuckThresholdMs
	}
	if conf.Finalization.PeriodMs < 1000 {
		logger.Error("sanitizing invalid finalization.period_ms", "provided", conf.Finalization.PeriodMs, "updated", DefaultConfig.Finalization.PeriodMs)
		conf.Finalization.PeriodMs = DefaultConfig.Finalization.PeriodMs
	}
	if conf.Finalization.ChallengeWindowS < 1 {
		logger.Error("sanitizing invalid finalization.challenge_window_s", "provided", conf.Finalization.ChallengeWindowS, "updated", DefaultConfig.Finalization.ChallengeWindowS)
		conf.Finalization.ChallengeWindowS = DefaultConfig.Finalization.ChallengeWindowS
	}
	if conf.Safety.RateLimit.WindowMs < 1 {
		logger.Error("sanitizing invalid safety.rate_limit.window_ms", "provided", conf.Safety.RateLimit.WindowMs, "updated", DefaultConfig.Safety.RateLimit.WindowMs)
		conf.Safety.RateLimit.WindowMs = DefaultConfig.Safety.RateLimit.WindowMs
	}
	if conf.Safety.RateLimit.Max < 1 {
		logger.Error("sanitizing invalid safety.rate_limit.max", "provided", conf.Safety.RateLimit.Max, "updated", DefaultConfig.Safety.RateLimit.Max)
		conf.Safety.RateLimit.Max = DefaultConfig.Safety.RateLimit.Max
	}
	if conf.Safety.CooldownMs < 0 {
		logger.Error("sanitizing invalid safety.cooldown_ms", "provided", conf.Safety.CooldownMs, "updated", DefaultConfig.Safety.CooldownMs)
		conf.Safety.CooldownMs = DefaultConfig.Safety.CooldownMs
	}
	if conf.Safety.EmergencyThreshold < 1 {
		logger.Error("sanitizing invalid safety.emergency_threshold", "provided", conf.Safety.EmergencyThreshold, "updated", DefaultConfig.Safety.EmergencyThreshold)
		conf.Safety.EmergencyThreshold = DefaultConfig.Safety.EmergencyThreshold
	}
	if conf.Monitor.SampleIntervalMs < 1000 {
		logger.Error("sanitizing invalid monitor.sample_interval_ms", "provided", conf.Monitor.SampleIntervalMs, "updated", DefaultConfig.Monitor.SampleIntervalMs)
		conf.Monitor.SampleIntervalMs = DefaultConfig.Monitor.SampleIntervalMs
	}
	switch conf.Storage.Backend {
	case "memory", "leveldb", "badger", "mysql":
	default:
		logger.Error("sanitizing invalid storage.backend", "provided", conf.Storage.Backend, "updated", DefaultConfig.Storage.Backend)
		conf.Storage.Backend = DefaultConfig.Storage.Backend
	}
	switch conf.Transport.Kind {
	case "noop", "kafka", "webhook":
	default:
		logger.Error("sanitizing invalid transport.kind", "provided", conf.Transport.Kind, "updated", DefaultConfig.Transport.Kind)
		conf.Transport.Kind = DefaultConfig.Transport.Kind
	}

	return conf
}

// PollInterval returns poll.interval_ms as a time.Duration.
func (c Config) PollInterval() time.Duration { return time.Duration(c.Poll.IntervalMs) * time.Millisecond }

// RetryDelay returns retry.delay_ms as a time.Duration.
func (c Config) RetryDelay() time.Duration { return time.Duration(c.Retry.DelayMs) * time.Millisecond }

// StuckThreshold returns stuck.threshold_ms as a time.Duration.
func (c Config) StuckThreshold() time.Duration {
	return time.Duration(c.StuckThresholdMs) * time.Millisecond
}

// FinalizationPeriod returns finalization.period_ms as a time.Duration.
func (c Config) FinalizationPeriod() time.Duration {
	return time.Duration(c.Finalization.PeriodMs) * time.Millisecond
}

// ChallengeWindow returns finalization.challenge_window_s as a time.Duration.
func (c Config) ChallengeWindow() time.Duration {
	return time.Duration(c.Finalization.ChallengeWindowS) * time.Second
}

// RateLimitWindow returns safety.rate_limit.window_ms as a time.Duration.
func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.Safety.RateLimit.WindowMs) * time.Millisecond
}

// Cooldown returns safety.cooldown_ms as a time.Duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Safety.CooldownMs) * time.Millisecond
}
