package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polypaper/config"
	"github.com/alejandrodnm/polypaper/internal/domain"
)

// MarketMaker keeps at most one bid and one ask per market, skewed
// against inventory so a growing position leans the quotes toward
// unloading it.
type MarketMaker struct {
	minHalfSpread decimal.Decimal
	edgeTicks     decimal.Decimal
	skewK         decimal.Decimal
	maxSpread     decimal.Decimal
	targetSize    decimal.Decimal
	maxPosition   decimal.Decimal
	minQuoteLife  time.Duration
	repriceTicks  decimal.Decimal
}

// NewMarketMaker builds the strategy from config.
func NewMarketMaker(cfg *config.Config) *MarketMaker {
	return &MarketMaker{
		minHalfSpread: decimal.NewFromFloat(cfg.MM.MinHalfSpread),
		edgeTicks:     decimal.NewFromFloat(cfg.MM.EdgeTicks),
		skewK:         decimal.NewFromFloat(cfg.MM.SkewK),
		maxSpread:     decimal.NewFromFloat(cfg.MM.MaxSpread),
		targetSize:    decimal.NewFromFloat(cfg.Strategy.TargetSize),
		maxPosition:   decimal.NewFromFloat(cfg.Risk.MaxPositionPerMarket),
		minQuoteLife:  time.Duration(cfg.MM.MinQuoteLifeSecs * float64(time.Second)),
		repriceTicks:  decimal.NewFromFloat(cfg.MM.RepriceThreshold),
	}
}

func (m *MarketMaker) Name() string { return NameMarketMaker }

// Evaluate computes the desired quote pair and diffs it against the
// live orders, cancelling, keeping or replacing per side.
func (m *MarketMaker) Evaluate(in Input) []domain.QuoteIntent {
	book := in.Book
	bid, okB := book.BestBid()
	ask, okA := book.BestAsk()

	// Pull both sides on a book that cannot be quoted against.
	if !okB || !okA || book.Crossed() || in.Health.Crossed || in.Health.Suspended || bookStale(in) {
		return cancelAll(in, NameMarketMaker)
	}
	spread := ask.Price.Sub(bid.Price)
	if spread.GreaterThan(m.maxSpread) {
		return cancelAll(in, NameMarketMaker)
	}

	tick := in.Market.Tick()
	mid, _ := book.Mid()

	// half_spread = max(min_half_spread, 0.5*observed + edge_ticks*tick)
	half := spread.Div(decimal.NewFromInt(2)).Add(m.edgeTicks.Mul(tick))
	if half.LessThan(m.minHalfSpread) {
		half = m.minHalfSpread
	}

	// skew = -k * net/max_position, in ticks
	skew := m.skewK.Neg().Mul(in.Position.NetSize.Div(m.maxPosition)).Mul(tick)

	desiredBid := domain.ClampPrice(domain.FloorToTick(mid.Sub(half).Add(skew), tick), tick)
	desiredAsk := domain.ClampPrice(domain.CeilToTick(mid.Add(half).Add(skew), tick), tick)
	if desiredBid.GreaterThanOrEqual(desiredAsk) {
		// Clamping collapsed the pair; stand down rather than self-cross.
		return cancelAll(in, NameMarketMaker)
	}

	bidSize := m.sideSize(domain.Buy, in)
	askSize := m.sideSize(domain.Sell, in)

	var out []domain.QuoteIntent
	out = append(out, m.reconcileSide(in, domain.Buy, desiredBid, bidSize, tick)...)
	out = append(out, m.reconcileSide(in, domain.Sell, desiredAsk, askSize, tick)...)
	return out
}

// sideSize clips the target size by the room left under the position
// cap. Zero means the side must not quote (reduce-only direction).
func (m *MarketMaker) sideSize(side domain.Side, in Input) decimal.Decimal {
	room := m.maxPosition.Sub(in.Position.NetSize)
	if side == domain.Sell {
		room = m.maxPosition.Add(in.Position.NetSize)
	}
	size := decimal.Min(m.targetSize, room)
	if size.LessThan(in.Market.MinSize) || !size.IsPositive() {
		return decimal.Zero
	}
	return size
}

// reconcileSide diffs the desired quote against the live order on that
// side. An order is kept while it is inside the reprice threshold, and
// never replaced before its minimum quote life.
func (m *MarketMaker) reconcileSide(in Input, side domain.Side, price, size, tick decimal.Decimal) []domain.QuoteIntent {
	var live *domain.Order
	for i := range in.OpenOrders {
		if in.OpenOrders[i].Side == side {
			live = &in.OpenOrders[i]
			break
		}
	}

	if !size.IsPositive() {
		if live != nil {
			return []domain.QuoteIntent{domain.Cancel(in.Market.MarketID, live.OrderID, NameMarketMaker)}
		}
		return nil
	}

	if live == nil {
		return []domain.QuoteIntent{domain.Place(in.Market.MarketID, side, domain.Limit, price, size, NameMarketMaker)}
	}

	driftTicks := live.Price.Sub(price).Abs().Div(tick)
	if driftTicks.LessThanOrEqual(m.repriceTicks) {
		return nil
	}
	if in.Now.Sub(live.RestedSinceTS) < m.minQuoteLife {
		return nil
	}
	return []domain.QuoteIntent{domain.Replace(in.Market.MarketID, live.OrderID, side, price, size, NameMarketMaker)}
}
