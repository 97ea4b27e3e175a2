// Package portfolio holds the authoritative in-memory trading state.
// Only the scheduler goroutine mutates it; strategies read cheap copies.
package portfolio

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// Portfolio tracks positions, realized PnL and the daily loss
// accumulator. Positions change only through ApplyFill.
type Portfolio struct {
	positions map[string]*domain.Position
	events    map[string]string // market id -> event id

	realizedToday decimal.Decimal
	day           time.Time // start of the accounting day, UTC

	fills int
}

// New builds an empty portfolio.
func New() *Portfolio {
	return &Portfolio{
		positions: make(map[string]*domain.Position),
		events:    make(map[string]string),
	}
}

// Rehydrate restores persisted positions from a previous session.
// Realized-today restarts at zero; the daily loss window is per run day.
func (p *Portfolio) Rehydrate(positions []domain.Position) {
	for _, pos := range positions {
		cp := pos
		p.positions[pos.MarketID] = &cp
	}
}

// SetEvent records the market's exposure group.
func (p *Portfolio) SetEvent(marketID, eventID string) {
	p.events[marketID] = eventID
}

// ApplyFill folds one fill into the position. Size-weighted averaging
// while adding, realizing against the held average while reducing, and
// a reset of the lot when net size crosses zero. Fees always reduce
// realized PnL.
func (p *Portfolio) ApplyFill(f domain.Fill, now time.Time) domain.Position {
	p.rollDay(now)

	pos, ok := p.positions[f.MarketID]
	if !ok {
		pos = &domain.Position{MarketID: f.MarketID, NetSize: decimal.Zero, AvgPrice: decimal.Zero, RealizedPnL: decimal.Zero}
		p.positions[f.MarketID] = pos
	}

	signed := f.SignedSize()
	oldNet := pos.NetSize
	newNet := oldNet.Add(signed)

	switch {
	case oldNet.IsZero():
		pos.AvgPrice = f.Price
		pos.OpenedTS = now

	case sameSign(oldNet, signed):
		// Adding to the lot: size-weighted average.
		oldAbs := oldNet.Abs()
		total := oldAbs.Add(f.Size)
		pos.AvgPrice = oldAbs.Mul(pos.AvgPrice).Add(f.Size.Mul(f.Price)).Div(total)

	case signed.Abs().LessThanOrEqual(oldNet.Abs()):
		// Reducing: realize against the held average.
		closed := signed.Abs()
		pnl := realizedOn(oldNet, pos.AvgPrice, f.Price, closed)
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		p.realizedToday = p.realizedToday.Add(pnl)
		if newNet.IsZero() {
			pos.AvgPrice = decimal.Zero
			pos.OpenedTS = time.Time{}
		}

	default:
		// Flip: close the whole old lot, open a new one at fill price.
		closed := oldNet.Abs()
		pnl := realizedOn(oldNet, pos.AvgPrice, f.Price, closed)
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		p.realizedToday = p.realizedToday.Add(pnl)
		pos.AvgPrice = f.Price
		pos.OpenedTS = now
	}

	pos.NetSize = newNet
	pos.RealizedPnL = pos.RealizedPnL.Sub(f.Fees)
	p.realizedToday = p.realizedToday.Sub(f.Fees)
	pos.UpdatedTS = now
	p.fills++

	return *pos
}

// SetMark records the latest mid used for unrealized PnL.
func (p *Portfolio) SetMark(marketID string, mark decimal.Decimal) {
	if pos, ok := p.positions[marketID]; ok {
		pos.LastMark = mark
	}
}

// Position returns a copy of the market's position, zero-valued if none.
func (p *Portfolio) Position(marketID string) domain.Position {
	if pos, ok := p.positions[marketID]; ok {
		return *pos
	}
	return domain.Position{MarketID: marketID, NetSize: decimal.Zero, AvgPrice: decimal.Zero, RealizedPnL: decimal.Zero}
}

// Positions returns copies of every tracked position, sorted by market
// id. Callers iterate this on the order-placing path, so the order must
// be identical across replays of the same tape.
func (p *Portfolio) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// OpenMarkets counts markets with a non-flat position.
func (p *Portfolio) OpenMarkets() int {
	n := 0
	for _, pos := range p.positions {
		if !pos.Flat() {
			n++
		}
	}
	return n
}

// HasPosition reports a non-flat position in the market.
func (p *Portfolio) HasPosition(marketID string) bool {
	pos, ok := p.positions[marketID]
	return ok && !pos.Flat()
}

// EventExposure sums |net_size * mark| over all markets in the event.
func (p *Portfolio) EventExposure(eventID string) decimal.Decimal {
	total := decimal.Zero
	for id, pos := range p.positions {
		if p.events[id] != eventID || pos.Flat() {
			continue
		}
		total = total.Add(pos.NetSize.Mul(pos.Mark()).Abs())
	}
	return total
}

// EventOf returns the market's exposure group, empty if unknown.
func (p *Portfolio) EventOf(marketID string) string {
	return p.events[marketID]
}

// RealizedToday returns today's realized PnL including fees, rolling
// the accumulator over at UTC midnight.
func (p *Portfolio) RealizedToday(now time.Time) decimal.Decimal {
	p.rollDay(now)
	return p.realizedToday
}

// TotalUnrealized marks every open lot against its last mid. Lots with
// no mark yet are valued at cost and contribute zero.
func (p *Portfolio) TotalUnrealized() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.positions {
		total = total.Add(pos.UnrealizedPnL(pos.Mark()))
	}
	return total
}

// TotalRealized sums realized PnL over the whole session history.
func (p *Portfolio) TotalRealized() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.positions {
		total = total.Add(pos.RealizedPnL)
	}
	return total
}

// Fills returns the number of fills applied this session.
func (p *Portfolio) Fills() int {
	return p.fills
}

// Snapshot builds the periodic PnL row.
func (p *Portfolio) Snapshot(now time.Time) domain.PnLSnapshot {
	return domain.PnLSnapshot{
		TS:          now,
		Unrealized:  p.TotalUnrealized(),
		Realized:    p.TotalRealized(),
		OpenMarkets: p.OpenMarkets(),
	}
}

func (p *Portfolio) rollDay(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(p.day) {
		p.day = day
		p.realizedToday = decimal.Zero
	}
}

// realizedOn computes PnL for closing `closed` units of the old lot at
// `price`. Long lots gain when price rises, short lots when it falls.
func realizedOn(oldNet, avg, price, closed decimal.Decimal) decimal.Decimal {
	diff := price.Sub(avg)
	if oldNet.IsNegative() {
		diff = diff.Neg()
	}
	return diff.Mul(closed)
}

func sameSign(a, b decimal.Decimal) bool {
	return (a.IsPositive() && b.IsPositive()) || (a.IsNegative() && b.IsNegative())
}
