// Command quoter runs the continuous two-sided quoting loop.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
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
	defaultConfig := "configs/quoter.yaml"
	if v := os.Getenv("QUOTER_PARAMS"); v != "" {
		defaultConfig = v
	}
	cfgPath := flag.String("config", defaultConfig, "config file path")
	dryRun := flag.Bool("dryRun", true, "run against the simulated ledger, no live submission")
	watch := flag.Bool("watch", true, "hot-reload quoting params on config change")
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

	source, runFeed := buildSource(cfg, zl)
	eng := engine.New(client, source, zl, metrics, engine.Options{
		Interval:        cfg.Interval(),
		BookStaleSecs:   cfg.Engine.BookStaleSecs,
		SetupMaxRetries: cfg.Engine.SetupMaxRetries,
		ShutdownTimeout: cfg.ShutdownTimeout(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runFeed != nil {
		go runFeed(ctx)
	}

	if err := eng.Bootstrap(ctx, cfg.Assets); err != nil {
		zl.Fatal("bootstrap", zap.Error(err))
	}

	if *watch {
		go func() {
			w := config.Watcher{Path: *cfgPath}
			if err := w.Start(ctx, eng.ApplyConfig); err != nil && ctx.Err() == nil {
				zl.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	zl.Info("quoter starting",
		zap.String("cluster", cfg.Cluster),
		zap.String("account", cfg.Account),
		zap.Bool("dryRun", *dryRun),
		zap.Int("assets", len(cfg.Assets)))
	if err := eng.Run(ctx); err != nil {
		zl.Error("engine stopped", zap.Error(err))
	}
}

// buildSource selects the reference feed. The REST poller needs no
// supervision; the streaming source gets a reconnect loop that the caller
// runs for the life of the process.
func buildSource(cfg config.AppConfig, zl *zap.Logger) (feed.Source, func(context.Context)) {
	if cfg.FeedMode != "stream" {
		return feed.NewKrakenClient(), nil
	}
	codes := make([]string, 0, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		codes = append(codes, asset.Perp.ReferenceCode)
	}
	sort.Strings(codes)

	src := feed.NewStreamSource()
	return src, func(ctx context.Context) {
		expo := backoff.NewExponentialBackOff()
		expo.MaxElapsedTime = 0
		for {
			started := time.Now()
			err := src.Run(ctx, codes)
			if ctx.Err() != nil {
				return
			}
			if time.Since(started) > time.Minute {
				// The session held for a while; treat the drop as fresh.
				expo.Reset()
			}
			wait := expo.NextBackOff()
			zl.Warn("reference stream dropped, reconnecting",
				zap.Error(err), zap.Duration("backoff", wait))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// buildClient returns the ledger client. Live submission requires the
// exchange SDK wiring that ships separately from this repository; dry runs
// use the in-memory simulator with markets derived from the config.
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
			PriceLot:    decimal.New(1, -4), // 0.0001
			BaseLot:     decimal.New(1, -4),
		})
	}
	return sim.New("sim-signer", instruments), nil
}
