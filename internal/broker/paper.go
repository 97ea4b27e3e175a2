package broker

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polypaper/config"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/metrics"
)

// Paper is the simulated broker. Two fill models:
//
//   - maker_touch (default): a resting buy fills when the best ask
//     touches its price, at the order's own limit price. Optimistic
//     about queue position, bounded by the participation cap.
//   - trade_through: a resting order fills only when a real trade
//     prints through its price. Strictly more conservative.
//
// Both models require PAPER_MIN_REST_SECS of resting time before any
// passive fill, which stands in for placement latency and queueing.
type Paper struct {
	log *slog.Logger

	fillModel     string
	participation decimal.Decimal
	slippage      decimal.Decimal // SLIPPAGE_BPS as a multiplier
	fees          decimal.Decimal // FEES_BPS as a multiplier
	minRest       time.Duration

	newID  func() string
	orders map[string]map[string]*domain.Order // market -> order id -> order
}

// NewPaper builds the paper broker from config.
func NewPaper(cfg *config.Config, log *slog.Logger) *Paper {
	return &Paper{
		log:           log.With("component", "paper_broker"),
		fillModel:     cfg.Run.FillModel,
		participation: decimal.NewFromFloat(cfg.Paper.Participation),
		slippage:      domain.BPSFactor(cfg.Paper.SlippageBPS),
		fees:          domain.BPSFactor(cfg.Paper.FeesBPS),
		minRest:       time.Duration(cfg.Paper.MinRestSecs * float64(time.Second)),
		newID:         uuid.NewString,
		orders:        make(map[string]map[string]*domain.Order),
	}
}

// SetIDGenerator swaps the id source. Backtests install a sequential
// generator so replays of the same tape produce identical rows.
func (b *Paper) SetIDGenerator(gen func() string) {
	b.newID = gen
}

// SequentialIDs returns a deterministic id generator with the prefix.
func SequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%08d", prefix, n)
	}
}

// Place admits an order, filling instantly when it crosses the touch.
func (b *Paper) Place(intent domain.QuoteIntent, m domain.Market, book *domain.BookState, now time.Time) (domain.Order, []Execution) {
	order := domain.Order{
		OrderID:       b.newID(),
		MarketID:      intent.MarketID,
		Side:          intent.Side,
		Type:          intent.Type,
		Price:         intent.Price,
		Size:          intent.Size,
		Status:        domain.StatusOpen,
		CreatedTS:     now,
		RestedSinceTS: now,
		FilledSize:    decimal.Zero,
		AvgFillPrice:  decimal.Zero,
		Strategy:      intent.Strategy,
	}

	if !domain.ValidPrice(intent.Price, m.Tick()) || !intent.Size.IsPositive() {
		order.Status = domain.StatusRejected
		order.Reason = "invalid_price_or_size"
		return order, nil
	}

	metrics.OrdersTotal.WithLabelValues(intent.Strategy, string(intent.Side)).Inc()

	var execs []Execution
	if touch, touchSize, marketable := b.marketableAt(order, book); marketable {
		// Instant fill at the touch, capped by top-of-book size.
		size := decimal.Min(order.Remaining(), touchSize)
		if size.IsPositive() {
			execs = append(execs, b.fill(&order, touch, size, now))
		}
	}

	if !order.Remaining().IsPositive() {
		order.Status = domain.StatusFilled
	} else if order.Type == domain.IOC && len(execs) > 0 {
		order.Status = domain.StatusCancelled
		order.Reason = "ioc_remainder"
	} else if order.Type == domain.IOC && len(execs) == 0 {
		order.Status = domain.StatusCancelled
		order.Reason = "ioc_unmarketable"
	}

	if !order.Done() {
		b.track(&order)
	}

	b.log.Info("order placed",
		"market", order.MarketID, "order", order.OrderID,
		"side", order.Side, "type", order.Type,
		"price", order.Price, "size", order.Size,
		"status", order.Status, "strategy", order.Strategy,
	)
	return order, execs
}

// Cancel is immediate and idempotent.
func (b *Paper) Cancel(marketID, orderID string, now time.Time) (domain.Order, bool) {
	o := b.lookup(marketID, orderID)
	if o == nil || o.Done() {
		return domain.Order{}, false
	}
	o.Status = domain.StatusCancelled
	delete(b.orders[marketID], orderID)
	b.log.Info("order cancelled", "market", marketID, "order", orderID)
	return *o, true
}

// OnBook runs the maker-touch match over the market's resting orders.
func (b *Paper) OnBook(marketID string, book *domain.BookState, now time.Time) []Execution {
	if b.fillModel != config.FillMakerTouch {
		return nil
	}

	var execs []Execution
	for _, o := range b.live(marketID) {
		if now.Sub(o.RestedSinceTS) < b.minRest {
			continue
		}
		touch, touchSize, crossed := b.touchCrossing(*o, book)
		if !crossed {
			continue
		}
		_ = touch // maker assumption: resting order fills at its own price
		size := decimal.Min(o.Remaining(), touchSize.Mul(b.participation))
		if !size.IsPositive() {
			continue
		}
		execs = append(execs, b.fill(o, o.Price, size, now))
		b.reap(marketID, o)
	}
	return execs
}

// OnTrade runs the trade-through match against one trade print.
func (b *Paper) OnTrade(marketID string, trade domain.Trade, now time.Time) []Execution {
	if b.fillModel != config.FillTradeThrough {
		return nil
	}

	var execs []Execution
	for _, o := range b.live(marketID) {
		if now.Sub(o.RestedSinceTS) < b.minRest {
			continue
		}
		hit := (o.Side == domain.Buy && trade.Price.LessThanOrEqual(o.Price)) ||
			(o.Side == domain.Sell && trade.Price.GreaterThanOrEqual(o.Price))
		if !hit {
			continue
		}
		size := decimal.Min(o.Remaining(), trade.Size.Mul(b.participation))
		if !size.IsPositive() {
			continue
		}
		execs = append(execs, b.fill(o, o.Price, size, now))
		b.reap(marketID, o)
	}
	return execs
}

// OpenOrders returns copies of the market's live orders.
func (b *Paper) OpenOrders(marketID string) []domain.Order {
	var out []domain.Order
	for _, o := range b.live(marketID) {
		out = append(out, *o)
	}
	return out
}

// OpenOrdersFor filters by owning strategy.
func (b *Paper) OpenOrdersFor(marketID, strategy string) []domain.Order {
	var out []domain.Order
	for _, o := range b.live(marketID) {
		if o.Strategy == strategy {
			out = append(out, *o)
		}
	}
	return out
}

// OpenOrderCount counts live orders across all markets.
func (b *Paper) OpenOrderCount() int {
	n := 0
	for _, byID := range b.orders {
		n += len(byID)
	}
	return n
}

// CancelMarket pulls every live order in the market.
func (b *Paper) CancelMarket(marketID string, now time.Time) []domain.Order {
	var out []domain.Order
	for _, o := range b.live(marketID) {
		if cancelled, ok := b.Cancel(marketID, o.OrderID, now); ok {
			out = append(out, cancelled)
		}
	}
	return out
}

// Rehydrate restores open orders from a previous session.
func (b *Paper) Rehydrate(orders []domain.Order) {
	for _, o := range orders {
		if o.Done() {
			continue
		}
		cp := o
		b.track(&cp)
	}
}

// fill applies one execution to the order and builds the fill record.
// Slippage shifts the execution price against the order; fees are
// charged on the slipped notional.
func (b *Paper) fill(o *domain.Order, price, size decimal.Decimal, now time.Time) Execution {
	exec := b.slip(o.Side, price)

	fees := exec.Mul(size).Mul(b.fees)
	filledBefore := o.FilledSize
	o.FilledSize = o.FilledSize.Add(size)
	o.AvgFillPrice = filledBefore.Mul(o.AvgFillPrice).Add(size.Mul(exec)).Div(o.FilledSize)
	if o.Remaining().IsPositive() {
		o.Status = domain.StatusPartial
	} else {
		o.Status = domain.StatusFilled
	}

	f := domain.Fill{
		FillID:   b.newID(),
		OrderID:  o.OrderID,
		MarketID: o.MarketID,
		Side:     o.Side,
		Price:    exec,
		Size:     size,
		TS:       now,
		Fees:     fees,
	}
	metrics.FillsTotal.WithLabelValues(string(o.Side)).Inc()
	b.log.Info("fill",
		"market", o.MarketID, "order", o.OrderID, "side", o.Side,
		"price", exec, "size", size, "fees", fees, "status", o.Status,
	)
	return Execution{Fill: f, Order: *o}
}

// slip shifts the execution price by SLIPPAGE_BPS against the taker.
func (b *Paper) slip(side domain.Side, price decimal.Decimal) decimal.Decimal {
	if b.slippage.IsZero() {
		return price
	}
	adj := price.Mul(b.slippage)
	if side == domain.Buy {
		return price.Add(adj)
	}
	return price.Sub(adj)
}

// marketableAt reports whether the new order crosses the current touch.
func (b *Paper) marketableAt(o domain.Order, book *domain.BookState) (price, size decimal.Decimal, ok bool) {
	if book == nil {
		return decimal.Zero, decimal.Zero, false
	}
	if o.Side == domain.Buy {
		if ask, has := book.BestAsk(); has && o.Price.GreaterThanOrEqual(ask.Price) {
			return ask.Price, ask.Size, true
		}
		return decimal.Zero, decimal.Zero, false
	}
	if bid, has := book.BestBid(); has && o.Price.LessThanOrEqual(bid.Price) {
		return bid.Price, bid.Size, true
	}
	return decimal.Zero, decimal.Zero, false
}

// touchCrossing reports whether the opposite touch reaches a resting order.
func (b *Paper) touchCrossing(o domain.Order, book *domain.BookState) (price, size decimal.Decimal, ok bool) {
	return b.marketableAt(o, book)
}

func (b *Paper) track(o *domain.Order) {
	byID, ok := b.orders[o.MarketID]
	if !ok {
		byID = make(map[string]*domain.Order)
		b.orders[o.MarketID] = byID
	}
	byID[o.OrderID] = o
}

func (b *Paper) lookup(marketID, orderID string) *domain.Order {
	if byID, ok := b.orders[marketID]; ok {
		return byID[orderID]
	}
	return nil
}

// live returns the market's tracked orders in a stable id order so
// fills are deterministic across replays.
func (b *Paper) live(marketID string) []*domain.Order {
	byID := b.orders[marketID]
	if len(byID) == 0 {
		return nil
	}
	out := make([]*domain.Order, 0, len(byID))
	for _, o := range byID {
		out = append(out, o)
	}
	sortOrders(out)
	return out
}

func (b *Paper) reap(marketID string, o *domain.Order) {
	if o.Done() {
		delete(b.orders[marketID], o.OrderID)
	}
}

// sortOrders orders by creation time, then id for full determinism.
func sortOrders(orders []*domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.CreatedTS.Equal(b.CreatedTS) {
			return a.CreatedTS.Before(b.CreatedTS)
		}
		return a.OrderID < b.OrderID
	})
}
