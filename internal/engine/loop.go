package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polypaper/config"
	"github.com/alejandrodnm/polypaper/internal/broker"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/metrics"
	"github.com/alejandrodnm/polypaper/internal/strategy"
)

// statusInterval paces the console status line in paper mode.
const statusInterval = 30 * time.Second

// unwindMaxPerCycle caps how many positions one unwind pass flattens.
const unwindMaxPerCycle = 3

// loop is the single-writer scheduler. Every mutation of books,
// portfolio and broker state happens here.
func (e *Engine) loop(ctx context.Context) error {
	events := e.source.Events()
	idle := time.NewTicker(e.cfg.IdleTick())
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case up := <-e.watchlistCh:
			e.applyWatchlist(ctx, up.wl)

		case ev, ok := <-events:
			if !ok {
				// Tape exhausted: clean backtest EOF.
				e.log.Info("feed stream ended")
				return nil
			}
			e.handleEvent(ev)

		case <-idle.C:
			// No feed activity; passive matches can still age in.
			if e.trading {
				now := e.clock.Now()
				for _, id := range e.books.TrackedIDs() {
					if b := e.books.Book(id); b != nil && !e.disabled[id] {
						e.applyExecs(e.brk.OnBook(id, b, now))
					}
				}
			}
		}

		e.periodic()
	}
}

// handleEvent runs the per-event pipeline: book apply, tape persist,
// broker match, throttled strategy evaluation.
func (e *Engine) handleEvent(ev domain.TapeEvent) {
	if e.tape != nil {
		e.tape.Advance(ev.LocalTS)
	}
	now := e.clock.Now()

	if e.cfg.Run.Mode == config.ModeBacktest && !e.books.Tracked(ev.MarketID) {
		e.trackReplayed(ev.MarketID)
	}
	if e.disabled[ev.MarketID] {
		return
	}
	if !e.validEvent(ev) {
		e.failClosed(ev.MarketID, "invariant violation in feed event", now)
		return
	}

	if e.persistTape {
		e.writer.EnqueueTape(ev)
	}

	book, applied := e.books.Apply(ev)
	e.refreshHealthCache(ev.MarketID)
	if !applied {
		return
	}

	if mid, ok := book.Mid(); ok {
		e.port.SetMark(ev.MarketID, mid)
	}

	if e.trading {
		if ev.Kind == domain.EventTrade {
			e.applyExecs(e.brk.OnTrade(ev.MarketID, *ev.Trade, now))
		} else {
			e.applyExecs(e.brk.OnBook(ev.MarketID, book, now))
		}

		if e.shouldEvaluate(ev.MarketID, book, now) {
			e.evaluate(ev.MarketID, book, now)
		}
	}
}

// validEvent rejects events that violate basic price/size invariants.
func (e *Engine) validEvent(ev domain.TapeEvent) bool {
	for _, lv := range ev.Bids {
		if lv.Price.IsNegative() || lv.Price.GreaterThan(domain.One) || lv.Size.IsNegative() {
			return false
		}
	}
	for _, lv := range ev.Asks {
		if lv.Price.IsNegative() || lv.Price.GreaterThan(domain.One) || lv.Size.IsNegative() {
			return false
		}
	}
	if ev.Kind == domain.EventTrade {
		t := ev.Trade
		if t == nil || t.Price.IsNegative() || t.Price.GreaterThan(domain.One) || t.Size.IsNegative() {
			return false
		}
	}
	return true
}

// shouldEvaluate applies the strategy throttle, overridden by a
// top-of-book move beyond the reprice threshold.
func (e *Engine) shouldEvaluate(marketID string, book *domain.BookState, now time.Time) bool {
	if e.paused.Load() || len(e.strats) == 0 {
		return false
	}

	m, ok := e.markets[marketID]
	if !ok {
		return false
	}
	tick := m.Tick()
	threshold := decimal.NewFromFloat(e.cfg.MM.RepriceThreshold).Mul(tick)

	moved := false
	if bid, has := book.BestBid(); has {
		if prev, tracked := e.lastBid[marketID]; tracked && bid.Price.Sub(prev.Price).Abs().GreaterThanOrEqual(threshold) {
			moved = true
		}
		e.lastBid[marketID] = bid
	}
	if ask, has := book.BestAsk(); has {
		if prev, tracked := e.lastAsk[marketID]; tracked && ask.Price.Sub(prev.Price).Abs().GreaterThanOrEqual(threshold) {
			moved = true
		}
		e.lastAsk[marketID] = ask
	}

	if moved {
		return true
	}
	return now.Sub(e.lastEval[marketID]) >= e.cfg.StrategyThrottle()
}

// evaluate runs every enabled strategy for the market and routes the
// intents through risk to the broker.
func (e *Engine) evaluate(marketID string, book *domain.BookState, now time.Time) {
	e.lastEval[marketID] = now

	m := e.markets[marketID]
	health := e.books.Health(marketID)
	pos := e.port.Position(marketID)

	for _, st := range e.strats {
		in := strategy.Input{
			Market:     m,
			Book:       book,
			Position:   pos,
			OpenOrders: e.brk.OpenOrdersFor(marketID, st.Name()),
			Health:     health,
			Now:        now,
		}
		for _, intent := range st.Evaluate(in) {
			e.processIntent(intent, m, book, now)
		}
	}
}

// processIntent gates one intent through risk and forwards survivors.
func (e *Engine) processIntent(intent domain.QuoteIntent, m domain.Market, book *domain.BookState, now time.Time) {
	switch intent.Kind {
	case domain.IntentCancel:
		if order, ok := e.brk.Cancel(intent.MarketID, intent.OrderID, now); ok {
			e.writer.EnqueueOrder(order)
		}

	case domain.IntentReplace:
		if order, ok := e.brk.Cancel(intent.MarketID, intent.OrderID, now); ok {
			e.writer.EnqueueOrder(order)
		}
		place := domain.Place(intent.MarketID, intent.Side, intent.Type, intent.Price, intent.Size, intent.Strategy)
		e.processIntent(place, m, book, now)

	case domain.IntentPlace:
		spread := 0.0
		if book != nil {
			spread = book.SpreadBPS()
		}
		verdict := e.riskEng.Check(intent, e.port, e.books.Health(intent.MarketID), spread, now)
		if !verdict.OK {
			return
		}
		order, execs := e.brk.Place(intent, m, book, now)
		e.writer.EnqueueOrder(order)
		e.applyExecs(execs)
	}
}

// applyExecs folds fills into the portfolio and persists the trail.
func (e *Engine) applyExecs(execs []broker.Execution) {
	for _, ex := range execs {
		pos := e.port.ApplyFill(ex.Fill, ex.Fill.TS)
		e.writer.EnqueueFill(ex.Fill)
		e.writer.EnqueueOrder(ex.Order)
		e.writer.EnqueuePosition(pos)
	}
	if len(execs) > 0 {
		metrics.OpenPositions.Set(float64(e.port.OpenMarkets()))
	}
}

// applyWatchlist reconciles subscriptions with the selector's output.
func (e *Engine) applyWatchlist(ctx context.Context, wl domain.Watchlist) {
	now := e.clock.Now()

	for _, entry := range wl.Entries {
		if e.books.Tracked(entry.MarketID) || e.disabled[entry.MarketID] {
			continue
		}
		m, ok := e.sel.Market(entry.MarketID)
		if !ok {
			continue
		}
		e.markets[m.MarketID] = m
		e.port.SetEvent(m.MarketID, m.EventID)
		e.books.Track(m.MarketID)
		e.refreshHealthCache(m.MarketID)
		if err := e.source.Subscribe(ctx, m); err != nil {
			e.log.Warn("subscribe failed", "market", m.MarketID, "err", err)
			e.books.Untrack(m.MarketID)
			e.dropHealthCache(m.MarketID)
		}
	}

	for _, id := range e.books.TrackedIDs() {
		if wl.Contains(id) {
			continue
		}
		if e.trading {
			for _, o := range e.brk.CancelMarket(id, now) {
				e.writer.EnqueueOrder(o)
			}
		}
		e.source.Unsubscribe(id)
		e.books.Untrack(id)
		e.dropHealthCache(id)
		e.log.Info("market dropped from watchlist", "market", id)
	}
}

// trackReplayed starts following a market seen only on the tape.
func (e *Engine) trackReplayed(marketID string) {
	if _, ok := e.markets[marketID]; !ok {
		e.markets[marketID] = domain.Market{
			MarketID: marketID,
			EventID:  marketID,
			Status:   domain.MarketOpen,
			TickSize: domain.DefaultTickSize,
			MinSize:  decimal.NewFromInt(1),
		}
		e.port.SetEvent(marketID, marketID)
	}
	e.books.Track(marketID)
}

// periodic handles the low-frequency duties: snapshots, the inventory
// unwind pass, loss-limit flattening and the status line.
func (e *Engine) periodic() {
	now := e.clock.Now()

	if e.trading && now.Sub(e.lastSnapshot) >= e.cfg.SnapshotInterval() {
		e.lastSnapshot = now
		for _, p := range e.port.Positions() {
			e.writer.EnqueuePosition(p)
		}
		snap := e.port.Snapshot(now)
		e.writer.EnqueueSnapshot(snap)
		e.log.Debug("pnl snapshot",
			"unrealized", snap.Unrealized, "realized", snap.Realized,
			"open_markets", snap.OpenMarkets)
	}

	if e.trading && now.Sub(e.lastUnwind) >= e.cfg.UnwindInterval() {
		e.lastUnwind = now
		e.unwindPass(now)
	}

	if e.console != nil && e.trading && e.cfg.Run.Mode == config.ModePaper && now.Sub(e.lastStatus) >= statusInterval {
		e.lastStatus = now
		e.console.StatusLine(now, len(e.books.TrackedIDs()), e.brk.OpenOrderCount(),
			e.port.OpenMarkets(), e.port.RealizedToday(now), e.port.TotalUnrealized())
	}
}

// unwindPass flattens positions that aged past the time stop, or every
// position when the daily loss limit is breached.
func (e *Engine) unwindPass(now time.Time) {
	maxAge := time.Duration(e.cfg.Risk.MaxPosAgeSecs) * time.Second
	lossLimit := decimal.NewFromFloat(e.cfg.Risk.DailyLossLimit).Neg()
	lossBreached := e.port.RealizedToday(now).Add(e.port.TotalUnrealized()).LessThanOrEqual(lossLimit)

	flattened := 0
	for _, pos := range e.port.Positions() {
		if flattened >= unwindMaxPerCycle {
			return
		}
		if pos.Flat() || e.disabled[pos.MarketID] {
			continue
		}
		aged := !pos.OpenedTS.IsZero() && now.Sub(pos.OpenedTS) >= maxAge
		if !aged && !lossBreached {
			continue
		}

		book := e.books.Book(pos.MarketID)
		if book == nil {
			continue
		}
		intent, ok := flattenIntent(pos, book)
		if !ok {
			continue
		}
		reason := "age"
		if lossBreached {
			reason = "daily_loss"
		}
		e.log.Warn("unwinding position",
			"market", pos.MarketID, "net", pos.NetSize, "reason", reason)
		e.processIntent(intent, e.markets[pos.MarketID], book, now)
		flattened++
	}
}

// flattenIntent builds a marketable IOC that reduces the position to
// flat at the current touch.
func flattenIntent(pos domain.Position, book *domain.BookState) (domain.QuoteIntent, bool) {
	side, ok := pos.ReducingSide()
	if !ok {
		return domain.QuoteIntent{}, false
	}
	var touch domain.Level
	if side == domain.Sell {
		touch, ok = book.BestBid()
	} else {
		touch, ok = book.BestAsk()
	}
	if !ok {
		return domain.QuoteIntent{}, false
	}
	return domain.Place(pos.MarketID, side, domain.IOC, touch.Price, pos.NetSize.Abs(), "unwind"), true
}

// failClosed cancels everything in the market and disables it for the
// rest of the session.
func (e *Engine) failClosed(marketID, why string, now time.Time) {
	e.log.Error("market disabled", "market", marketID, "why", why)
	if e.trading {
		for _, o := range e.brk.CancelMarket(marketID, now) {
			e.writer.EnqueueOrder(o)
		}
	}
	e.books.Suspend(marketID)
	e.disabled[marketID] = true
}
