package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alejandrodnm/flipbot/config"
	"github.com/alejandrodnm/flipbot/internal/adapters/astro"
	"github.com/alejandrodnm/flipbot/internal/adapters/ledger"
	"github.com/alejandrodnm/flipbot/internal/adapters/notify"
	"github.com/alejandrodnm/flipbot/internal/adapters/storage"
	"github.com/alejandrodnm/flipbot/internal/application/engine"
	"github.com/alejandrodnm/flipbot/internal/coordinator"
	"github.com/alejandrodnm/flipbot/internal/domain"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one monitoring cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print executed flips as a table (default: compact 1-line)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if cfg.Monitor.OwnerAddress == "" {
		slog.Error("monitor.owner_address is required (or set OWNER_ADDRESS)")
		os.Exit(1)
	}

	slog.Info("flipbot starting",
		"config", *configPath,
		"interval", cfg.CycleInterval(),
		"owner", cfg.Monitor.OwnerAddress,
		"once", *once,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.ApplySchema(ctx); err != nil {
		slog.Error("failed to apply schema", "err", err)
		os.Exit(1)
	}

	log := slog.Default()

	client := astro.NewClient(cfg.API.AstroBase, cfg.Fees.Component, cfg.Fees.Percent)
	prices := astro.NewPrices(log, client, cfg.API.GatewayBase, cfg.Fees.NativeToken, cfg.PriceCacheTTL())
	gateway := ledger.NewGateway(log, cfg.API.GatewayBase)
	notifier := notify.NewConsole(*table)

	coord := coordinator.New(log)
	coord.Start()
	defer func() {
		if err := coord.Stop(30 * time.Second); err != nil {
			slog.Warn("coordinator did not drain in time", "err", err)
		}
	}()

	scorer := engine.NewRegimeScorer(domain.ManualSettings{})
	signals := engine.NewSignalGenerator(log, prices, scorer, store, cfg.Strategies)
	validator := engine.NewValidator(log, client, store, cfg.Monitor.MaxPriceImpactPct, domain.KellyParams{
		Fractional: cfg.Strategies.Kelly.FractionalMultiplier,
		Min:        cfg.Strategies.Kelly.MinPositionSize,
		Max:        cfg.Strategies.Kelly.MaxPositionSize,
		MinTrades:  cfg.Strategies.Kelly.MinTradesRequired,
		Lookback:   cfg.Strategies.Kelly.LookbackTrades,
	})
	monitor := engine.NewMonitor(log, cfg, store, prices, signals, validator, gateway, notifier, coord)

	runCycle := func() {
		res, err := monitor.RunCycle(ctx)
		if err != nil {
			slog.Error("cycle failed", "err", err)
			return
		}
		slog.Info("cycle finished",
			"analyzed", res.Analyzed,
			"validated", res.Validated,
			"executed", len(res.Executed),
			"failed", res.Failed,
			"duration", res.Duration,
		)
	}

	// primer ciclo inmediato, el resto los agenda el cron
	runCycle()
	if *once {
		slog.Info("flipbot stopped cleanly")
		return
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc("@every "+cfg.CycleInterval().String(), runCycle); err != nil {
		slog.Error("failed to schedule cycle", "err", err)
		os.Exit(1)
	}
	c.Start()

	<-ctx.Done()
	slog.Info("shutting down...")
	<-c.Stop().Done()

	slog.Info("flipbot stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
