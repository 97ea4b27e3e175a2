package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/polypaper/config"
	"github.com/alejandrodnm/polypaper/internal/adapters/fv"
	"github.com/alejandrodnm/polypaper/internal/adapters/notify"
	"github.com/alejandrodnm/polypaper/internal/adapters/polymarket"
	"github.com/alejandrodnm/polypaper/internal/adapters/storage"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/engine"
	"github.com/alejandrodnm/polypaper/internal/feed"
	"github.com/alejandrodnm/polypaper/internal/metrics"
	"github.com/alejandrodnm/polypaper/internal/ports"
	"github.com/alejandrodnm/polypaper/internal/selector"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	mode := flag.String("mode", "", "run mode: scanner|paper|backtest (overrides config)")
	once := flag.Bool("once", false, "run one selector pass, print the watchlist and exit")
	dryRun := flag.Bool("dry-run", false, "use a synthetic deterministic feed instead of the real venue")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	if *mode != "" {
		os.Setenv("RUN_MODE", *mode)
	}
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
	log := setupLogger(cfg.Log)

	log.Info("polypaper starting",
		"config", *configPath,
		"mode", cfg.Run.Mode,
		"execution", cfg.Run.ExecutionMode,
		"fill_model", cfg.Run.FillModel,
		"dry_run", *dryRun,
	)

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		log.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, log)
	}

	opts, err := buildOptions(cfg, log, store, *dryRun)
	if err != nil {
		log.Error("failed to assemble engine", "err", err)
		os.Exit(1)
	}

	if *once {
		if err := runOnce(ctx, cfg, log, opts); err != nil {
			log.Error("selector pass failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := engine.New(opts).Run(ctx); err != nil {
		log.Error("engine exited with error", "err", err)
		os.Exit(1)
	}
	log.Info("polypaper stopped cleanly")
}

// runOnce performs a single selector refresh and prints the ranking.
// No feed is started, so spread and update-rate gates are waived.
func runOnce(ctx context.Context, cfg *config.Config, log *slog.Logger, opts engine.Options) error {
	if opts.Provider == nil {
		return fmt.Errorf("main.runOnce: mode %q has no market provider", cfg.Run.Mode)
	}
	noHealth := func(string) (domain.FeedHealth, float64, bool) {
		return domain.FeedHealth{}, 0, false
	}
	sel := selector.New(opts.Provider, noHealth, cfg, log)
	if _, _, err := sel.Refresh(ctx, time.Now()); err != nil {
		return err
	}
	wl := sel.Watchlist()
	markets := make([]domain.Market, 0, len(sel.Markets()))
	for _, m := range sel.Markets() {
		markets = append(markets, m)
	}
	if err := opts.Store.UpsertMarkets(ctx, markets); err != nil {
		return err
	}
	if err := opts.Store.SaveWatchlist(ctx, wl); err != nil {
		return err
	}
	notify.NewConsole().NotifyWatchlist(wl, sel.Markets())
	return nil
}

// buildOptions wires the run-mode specific collaborators.
func buildOptions(cfg *config.Config, log *slog.Logger, store ports.Store, dryRun bool) (engine.Options, error) {
	opts := engine.Options{
		Config:  cfg,
		Log:     log,
		Store:   store,
		Console: notify.NewConsole(),
		Clock:   engine.WallClock{},
	}

	switch cfg.Run.Mode {
	case config.ModeBacktest:
		start, end, err := cfg.BacktestBounds()
		if err != nil {
			return engine.Options{}, err
		}
		tape := engine.NewTapeClock()
		opts.Clock = tape
		opts.TapeClock = tape
		opts.Source = feed.NewReplay(store, cfg.Backtest.Speed, start, end, cfg.Feed.QueueSize, log)
		opts.Fv = fv.NewStub()
		if cfg.FV.Provider == "mock" {
			opts.Fv = fv.NewMock(tape.Now)
		}

	default: // scanner, paper
		if dryRun {
			opts.Source = feed.NewMockSource(cfg.Feed.QueueSize, 250*time.Millisecond)
			opts.Provider = mockProvider{}
		} else {
			client := polymarket.NewClient(cfg.API.GammaBase)
			opts.Source = polymarket.NewWSFeed(cfg.API.WSBase, cfg.Feed.QueueSize, log)
			opts.Provider = client
		}
		opts.Fv = fv.NewStub()
		if cfg.FV.Provider == "mock" {
			opts.Fv = fv.NewMock(time.Now)
		}
	}
	return opts, nil
}

func serveMetrics(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Info("metrics listener up", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics listener stopped", "err", err)
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
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
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}
