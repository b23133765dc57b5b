// Command flatten runs the inventory-flattening loop: it crosses the
// spread with reduce-only taker orders until positions return to zero.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"perp-mm-go/config"
	"perp-mm-go/engine"
	"perp-mm-go/feed"
	"perp-mm-go/infrastructure/logger"
	"perp-mm-go/ledger"
	"perp-mm-go/ledger/sim"
	"perp-mm-go/monitor"
)

func main() {
	defaultConfig := "configs/flatten.yaml"
	if v := os.Getenv("FLATTEN_PARAMS"); v != "" {
		defaultConfig = v
	}
	cfgPath := flag.String("config", defaultConfig, "config file path")
	dryRun := flag.Bool("dryRun", true, "run against the simulated ledger, no live submission")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	zl, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	metrics := monitor.New(prometheus.DefaultRegisterer)
	monitor.Serve(cfg.MetricsAddr, zl)

	client, err := buildClient(cfg, *dryRun)
	if err != nil {
		zl.Fatal("ledger client", zap.Error(err))
	}

	eng := engine.New(client, feed.NewKrakenClient(), zl, metrics, engine.Options{
		Interval:        cfg.Interval(),
		BookStaleSecs:   cfg.Engine.BookStaleSecs,
		SetupMaxRetries: cfg.Engine.SetupMaxRetries,
		ShutdownTimeout: cfg.ShutdownTimeout(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Bootstrap(ctx, cfg.Assets); err != nil {
		zl.Fatal("bootstrap", zap.Error(err))
	}

	zl.Info("flattener starting",
		zap.String("cluster", cfg.Cluster),
		zap.String("account", cfg.Account),
		zap.Bool("dryRun", *dryRun),
		zap.Int("assets", len(cfg.Assets)))
	if err := eng.RunFlatten(ctx); err != nil {
		zl.Error("engine stopped", zap.Error(err))
	}
}

func buildClient(cfg config.AppConfig, dryRun bool) (ledger.Client, error) {
	if !dryRun {
		log.Fatal("live mode requires the ledger SDK client; rebuild with it wired or pass -dryRun")
	}
	assets := make([]string, 0, len(cfg.Assets))
	for sym := range cfg.Assets {
		assets = append(assets, sym)
	}
	sort.Strings(assets)
	instruments := make([]ledger.Instrument, 0, len(assets))
	for i, sym := range assets {
		instruments = append(instruments, ledger.Instrument{
			Name:        sym + "-PERP",
			MarketIndex: i,
			PriceLot:    decimal.New(1, -4),
			BaseLot:     decimal.New(1, -4),
		})
	}
	return sim.New("sim-signer", instruments), nil
}
