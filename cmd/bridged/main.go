// Command bridged runs the cross-chain bridge engine: the Transfer
// Pipeline, Safety Controller, Finalization Engine, Monitor and operator
// HTTP surface, wired together and owned by a single Orchestrator, the
// way cmd/kcn/main.go builds a klaytn node's urfave/cli App around a
// single node.Node.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/chainbridge-x/engine/internal/cache"
	"github.com/chainbridge-x/engine/internal/chainadapter"
	"github.com/chainbridge-x/engine/internal/chainadapter/memadapter"
	"github.com/chainbridge-x/engine/internal/config"
	"github.com/chainbridge-x/engine/internal/finalization"
	"github.com/chainbridge-x/engine/internal/klog"
	"github.com/chainbridge-x/engine/internal/monitor"
	"github.com/chainbridge-x/engine/internal/monitor/transport"
	"github.com/chainbridge-x/engine/internal/operator"
	"github.com/chainbridge-x/engine/internal/orchestrator"
	"github.com/chainbridge-x/engine/internal/safety"
	"github.com/chainbridge-x/engine/internal/store"
	"github.com/chainbridge-x/engine/internal/store/kvstore"
	"github.com/chainbridge-x/engine/internal/store/memstore"
	"github.com/chainbridge-x/engine/internal/store/sqlstore"
	"github.com/chainbridge-x/engine/internal/tokenmap"
	"github.com/chainbridge-x/engine/internal/transfer"
	"net/http"
)

var logger = klog.NewModuleLogger(klog.ModuleOrchestrator)

var (
	ConfigFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file path",
	}
	StorageBackendFlag = cli.StringFlag{
		Name:  "storage.backend",
		Usage: `Persistence backend ("memory", "leveldb", "badger", "mysql")`,
	}
	DataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the embedded storage engine",
	}
	ListenAddrFlag = cli.StringFlag{
		Name:  "operator.listen",
		Usage: "Operator HTTP surface listen address",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "bridged"
	app.Usage = "cross-chain asset bridge orchestration engine"
	app.Flags = []cli.Flag{ConfigFileFlag, StorageBackendFlag, DataDirFlag, ListenAddrFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg := config.DefaultConfig
	if path := ctx.String(ConfigFileFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("bridged: config load failed: %w", err)
		}
		cfg = *loaded
	}
	if v := ctx.String(StorageBackendFlag.Name); v != "" {
		cfg.Storage.Backend = v
	}
	if v := ctx.String(DataDirFlag.Name); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := ctx.String(ListenAddrFlag.Name); v != "" {
		cfg.Operator.ListenAddr = v
	}
	cfg = cfg.Sanitize()

	st, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}

	c, err := cache.New(1024, nil)
	if err != nil {
		return fmt.Errorf("bridged: cache init failed: %w", err)
	}

	tokens := tokenmap.New(st)
	bgCtx := context.Background()
	if err := tokens.Load(bgCtx); err != nil {
		return fmt.Errorf("bridged: token map load failed: %w", err)
	}

	sc := safety.New(cfg.Safety, st, tokens, c)

	chainA := memadapter.New(chainadapter.ChainA)
	chainB := memadapter.New(chainadapter.ChainB)

	pipeline := transfer.New(cfg, st, tokens, sc, chainA, chainB)
	finalizer := finalization.New(cfg.Finalization, cfg.Poll.MaxBlocksPerBatch, st, sc, chainB, chainA)

	xport, err := openTransport(cfg.Transport)
	if err != nil {
		return err
	}
	mon := monitor.New(cfg.Monitor, cfg.Monitor.SampleInterval(), st, chainA, chainB, xport)

	orch := orchestrator.New(pipeline, finalizer, mon, sc, st, c)
	if err := orch.Start(bgCtx); err != nil {
		return fmt.Errorf("bridged: start failed: %w", err)
	}

	srv := operator.New(st, sc, cfg.Operator.AuthToken)
	httpSrv := &http.Server{Addr: cfg.Operator.ListenAddr, Handler: srv.Router}
	go func() {
		logger.Info("operator surface listening", "addr", cfg.Operator.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("operator surface stopped", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(bgCtx, orchestrator.DrainTimeout+5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	return orch.Stop(shutdownCtx)
}

func openStore(sc config.StorageConfig) (store.Store, error) {
	switch sc.Backend {
	case "mysql":
		return sqlstore.Open(sc.MySQLDSN)
	case "leveldb":
		eng, err := kvstore.Open(kvstore.DBTypeLevelDB, sc.DataDir)
		if err != nil {
			return nil, err
		}
		return kvstore.New(eng), nil
	case "badger":
		eng, err := kvstore.Open(kvstore.DBTypeBadger, sc.DataDir)
		if err != nil {
			return nil, err
		}
		return kvstore.New(eng), nil
	default:
		return memstore.New(), nil
	}
}

func openTransport(tc config.TransportConfig) (transport.Transport, error) {
	switch tc.Kind {
	case "kafka":
		return transport.NewKafkaTransport(tc.KafkaBrokers, tc.KafkaTopicPrefix)
	case "webhook":
		return transport.NewWebhookTransport(tc.WebhookURL), nil
	default:
		return &transport.Noop{}, nil
	}
}
