package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stargazecap/optimus/config"
	"github.com/stargazecap/optimus/internal/adapters/execution"
	"github.com/stargazecap/optimus/internal/adapters/marketdata"
	"github.com/stargazecap/optimus/internal/adapters/notify"
	"github.com/stargazecap/optimus/internal/adapters/storage"
	"github.com/stargazecap/optimus/internal/engine"
	"github.com/stargazecap/optimus/internal/ports"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one decision cycle and exit")
	table := flag.Bool("table", false, "print the full position table each cycle")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
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

	params := cfg.AssetParams()
	slog.Info("optimus starting",
		"config", *configPath,
		"assets", len(params),
		"interval", cfg.CycleInterval(),
		"equity", cfg.Engine.InitialEquity,
		"once", *once,
	)

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	market, err := buildMarketData(cfg)
	if err != nil {
		slog.Error("failed to load market data", "err", err)
		os.Exit(1)
	}

	paper := execution.NewPaper(cfg.Engine.InitialEquity, params)
	notifier := buildNotifier(cfg, *table)

	eng := engine.New(engine.Config{
		InitialEquity:     cfg.Engine.InitialEquity,
		BaseRiskPct:       cfg.Engine.BaseRiskPct,
		Thresholds:        cfg.Thresholds(),
		Limits:            riskLimits(cfg),
		Workers:           cfg.Engine.Workers,
		DecisionRetention: cfg.DecisionRetention(),
	}, params, market, paper, paper, store, notifier)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Init(ctx); err != nil {
		slog.Error("engine init failed", "err", err)
		os.Exit(1)
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr)
	}

	if err := run(ctx, eng, cfg.CycleInterval(), *once); err != nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("optimus stopped cleanly")
}

// run drives the cycle loop until the context is canceled or the replay
// data runs out.
func run(ctx context.Context, eng *engine.Engine, interval time.Duration, once bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := eng.RunOnce(ctx)
		switch {
		case errors.Is(err, marketdata.ErrExhausted):
			slog.Info("replay data exhausted, stopping")
			return nil
		case err != nil:
			return err
		}

		slog.Info("cycle complete",
			"entered", result.Entered,
			"closed", result.Closed,
			"rolled", result.Rolled,
			"vetoed", result.Vetoed,
			"risk", result.RiskState.String(),
			"equity", result.Equity,
		)

		if once {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// buildMarketData loads per-asset candle files and the optional stress
// proxy into the replay provider.
func buildMarketData(cfg *config.Config) (*marketdata.Replay, error) {
	series := make(map[string][]marketdata.Candle, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		path := filepath.Join(cfg.Data.CandleDir, asset.Symbol+".csv")
		candles, err := marketdata.LoadCandlesCSV(path)
		if err != nil {
			return nil, err
		}
		series[asset.Symbol] = candles
	}

	var stress []float64
	if cfg.Data.StressFile != "" {
		candles, err := marketdata.LoadCandlesCSV(cfg.Data.StressFile)
		if err != nil {
			return nil, err
		}
		stress = make([]float64, len(candles))
		for i, c := range candles {
			stress[i] = c.Close
		}
	}

	return marketdata.NewReplay(series, stress, cfg.Data.WarmupDays)
}

func buildNotifier(cfg *config.Config, table bool) ports.Notifier {
	console := notify.NewConsole(table)
	if !cfg.Telegram.Enabled {
		return console
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		slog.Warn("telegram disabled", "err", err)
		return console
	}
	return notify.Multi{console, tg}
}

func riskLimits(cfg *config.Config) engine.RiskLimits {
	return engine.RiskLimits{
		DailyLossPct:    cfg.Risk.DailyLossPct,
		WeeklyLossPct:   cfg.Risk.WeeklyLossPct,
		MonthlyLossPct:  cfg.Risk.MonthlyLossPct,
		CorrAlertEnter:  cfg.Risk.CorrAlertEnter,
		CorrAlertExit:   cfg.Risk.CorrAlertExit,
		BreakerCount:    cfg.Risk.BreakerCount,
		BreakerCooldown: cfg.BreakerCooldown(),
		TimeStopDTE:     cfg.Risk.TimeStopDTE,
		ExposureCeilPct: cfg.Risk.ExposureCeilPct,
		MaxMarginUsePct: cfg.Risk.MaxMarginUsePct,
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics server stopped", "err", err)
	}
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
