// Package engine wires the core loop: feed -> strategies -> risk ->
// broker -> portfolio -> persistence. A single scheduler goroutine owns
// every mutable piece of trading state.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polypaper/config"
	"github.com/alejandrodnm/polypaper/internal/adapters/notify"
	"github.com/alejandrodnm/polypaper/internal/adapters/storage"
	"github.com/alejandrodnm/polypaper/internal/broker"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/feed"
	"github.com/alejandrodnm/polypaper/internal/portfolio"
	"github.com/alejandrodnm/polypaper/internal/ports"
	"github.com/alejandrodnm/polypaper/internal/risk"
	"github.com/alejandrodnm/polypaper/internal/selector"
	"github.com/alejandrodnm/polypaper/internal/strategy"
)

// Options carries the external collaborators. Everything the scheduler
// owns is built inside New.
type Options struct {
	Config    *config.Config
	Log       *slog.Logger
	Store     ports.Store
	Source    ports.FeedSource
	Provider  ports.MarketProvider // nil disables the selector (backtest)
	Fv        ports.FvProvider
	Console   *notify.Console
	Clock     Clock
	TapeClock *TapeClock // set when Clock is tape-driven
}

type watchlistUpdate struct {
	wl domain.Watchlist
}

type healthSnap struct {
	health    domain.FeedHealth
	spreadBPS float64
}

// Engine is the assembled core.
type Engine struct {
	cfg   *config.Config
	log   *slog.Logger
	clock Clock
	tape  *TapeClock

	store   ports.Store
	writer  *storage.Writer
	source  ports.FeedSource
	books   *feed.Manager
	sel     *selector.Selector
	port    *portfolio.Portfolio
	riskEng *risk.Engine
	brk     broker.Broker
	strats  []strategy.Strategy
	console *notify.Console

	// Tape rows are re-persisted only on live ingestion; a backtest
	// must not duplicate the tape it reads.
	persistTape bool
	trading     bool // false in scanner mode

	markets  map[string]domain.Market
	disabled map[string]bool
	paused   atomic.Bool

	// healthCache mirrors feed health for the selector goroutine; the
	// scheduler owns the live maps and refreshes this copy.
	healthMu    sync.RWMutex
	healthCache map[string]healthSnap

	lastEval map[string]time.Time
	lastBid  map[string]domain.Level
	lastAsk  map[string]domain.Level

	lastSnapshot time.Time
	lastUnwind   time.Time
	lastStatus   time.Time

	watchlistCh chan watchlistUpdate
}

// New assembles the engine for the configured run mode.
func New(opts Options) *Engine {
	cfg := opts.Config
	log := opts.Log

	e := &Engine{
		cfg:         cfg,
		log:         log.With("component", "engine"),
		clock:       opts.Clock,
		tape:        opts.TapeClock,
		store:       opts.Store,
		writer:      storage.NewWriter(opts.Store, cfg.Storage.WriterBatchSize, cfg.Storage.WriterQueueSize, log),
		source:      opts.Source,
		books:       feed.NewManager(log),
		port:        portfolio.New(),
		riskEng:     risk.NewEngine(cfg, log),
		console:     opts.Console,
		persistTape: cfg.Run.Mode != config.ModeBacktest,
		trading:     cfg.Run.Mode != config.ModeScanner,
		markets:     make(map[string]domain.Market),
		disabled:    make(map[string]bool),
		lastEval:    make(map[string]time.Time),
		lastBid:     make(map[string]domain.Level),
		lastAsk:     make(map[string]domain.Level),
		healthCache: make(map[string]healthSnap),
		watchlistCh: make(chan watchlistUpdate, 1),
	}

	e.riskEng.SetKillSwitch(cfg.Risk.KillSwitch)

	if opts.Provider != nil {
		e.sel = selector.New(opts.Provider, e.healthFor, cfg, log)
	}

	if e.trading {
		if cfg.Run.ExecutionMode == config.ExecShadow {
			e.brk = broker.NewShadow(log)
		} else {
			paper := broker.NewPaper(cfg, log)
			if cfg.Run.Mode == config.ModeBacktest {
				paper.SetIDGenerator(broker.SequentialIDs("bt"))
			}
			e.brk = paper
		}
		if cfg.StrategyEnabled(strategy.NameMarketMaker) {
			e.strats = append(e.strats, strategy.NewMarketMaker(cfg))
		}
		if cfg.StrategyEnabled(strategy.NameFairValue) {
			e.strats = append(e.strats, strategy.NewFairValue(cfg, opts.Fv))
		}
	}
	return e
}

// healthFor serves feed metrics to the selector goroutine from the
// mirrored cache; the live book maps belong to the scheduler.
func (e *Engine) healthFor(marketID string) (domain.FeedHealth, float64, bool) {
	e.healthMu.RLock()
	defer e.healthMu.RUnlock()
	snap, ok := e.healthCache[marketID]
	return snap.health, snap.spreadBPS, ok
}

// refreshHealthCache publishes the market's current feed view.
func (e *Engine) refreshHealthCache(marketID string) {
	h := e.books.Health(marketID)
	spread := 0.0
	if b := e.books.Book(marketID); b != nil {
		spread = b.SpreadBPS()
	}
	e.healthMu.Lock()
	e.healthCache[marketID] = healthSnap{health: h, spreadBPS: spread}
	e.healthMu.Unlock()
}

func (e *Engine) dropHealthCache(marketID string) {
	e.healthMu.Lock()
	delete(e.healthCache, marketID)
	e.healthMu.Unlock()
}

// Run drives the engine until ctx is cancelled or, in backtest mode,
// until the tape is exhausted.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.rehydrate(ctx); err != nil {
		return fmt.Errorf("engine.Run: %w", err)
	}

	// The writer outlives the loop so the final snapshot drains.
	writerCtx, stopWriter := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		_ = e.writer.Run(writerCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	if e.sel != nil {
		g.Go(func() error { return e.selectorLoop(gctx) })
	}
	if replay, ok := e.source.(*feed.Replay); ok {
		g.Go(func() error { return replay.Run(gctx) })
	}
	g.Go(func() error { return e.loop(gctx) })

	err := g.Wait()

	e.shutdown()
	stopWriter()
	<-writerDone

	if e.console != nil && e.trading {
		e.console.NotifySessionReport(e.port.Positions(), e.port.Snapshot(e.clock.Now()), e.port.Fills())
	}
	return err
}

// rehydrate restores paper state and the market cache from storage.
func (e *Engine) rehydrate(ctx context.Context) error {
	if e.cfg.Paper.ResetOnStart {
		if err := e.store.ResetPaperState(ctx); err != nil {
			return err
		}
		e.log.Info("paper state wiped")
	}

	markets, err := e.store.GetMarkets(ctx)
	if err != nil {
		return err
	}
	for _, m := range markets {
		e.markets[m.MarketID] = m
		e.port.SetEvent(m.MarketID, m.EventID)
	}
	if e.sel != nil {
		e.sel.Rehydrate(markets)
	}

	// A backtest quotes whatever the tape contains; track everything
	// known up front so the first replayed snapshot lands.
	if e.cfg.Run.Mode == config.ModeBacktest {
		for id := range e.markets {
			e.books.Track(id)
		}
	}

	if !e.trading || e.cfg.Paper.ResetOnStart {
		return nil
	}

	positions, err := e.store.GetPositions(ctx)
	if err != nil {
		return err
	}
	e.port.Rehydrate(positions)

	orders, err := e.store.GetOpenOrders(ctx)
	if err != nil {
		return err
	}
	e.brk.Rehydrate(orders)
	if len(positions) > 0 || len(orders) > 0 {
		e.log.Info("paper state restored", "positions", len(positions), "open_orders", len(orders))
	}
	return nil
}

// selectorLoop refreshes the watchlist on its own goroutine and posts
// results to the scheduler. Failures back off 1s to 30s while the last
// good watchlist keeps serving.
func (e *Engine) selectorLoop(ctx context.Context) error {
	delay := time.Duration(0)
	for {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}

		wl, _, err := e.sel.Refresh(ctx, e.clock.Now())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			paused := e.sel.Paused()
			e.paused.Store(paused)
			if paused {
				e.log.Error("no watchlist after repeated failures, scheduler paused")
			}
			delay = e.sel.NextDelay()
			continue
		}
		e.paused.Store(false)

		select {
		case e.watchlistCh <- watchlistUpdate{wl: wl}:
		default:
			// Scheduler busy; it will pick up the next tick.
		}
		e.writer.EnqueueWatchlist(wl)
		if ms := marketsOf(e.sel.Markets(), wl); len(ms) > 0 {
			e.writer.EnqueueMarkets(ms)
		}
		if e.console != nil && e.cfg.Run.Mode == config.ModeScanner {
			e.console.NotifyWatchlist(wl, e.sel.Markets())
		}

		delay = e.cfg.SelectorInterval()
	}
}

func marketsOf(all map[string]domain.Market, wl domain.Watchlist) []domain.Market {
	out := make([]domain.Market, 0, len(wl.Entries))
	for _, entry := range wl.Entries {
		if m, ok := all[entry.MarketID]; ok {
			out = append(out, m)
		}
	}
	return out
}

// shutdown cancels subscriptions and queues the final snapshot. Open
// paper orders stay open; the next run restores them unless reset.
func (e *Engine) shutdown() {
	_ = e.source.Close()

	now := e.clock.Now()
	if e.trading {
		for _, p := range e.port.Positions() {
			e.writer.EnqueuePosition(p)
		}
		e.writer.EnqueueSnapshot(e.port.Snapshot(now))
	}
	e.log.Info("shutdown complete", "ts", now)
}
