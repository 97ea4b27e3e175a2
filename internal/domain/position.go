package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the held lot for one market. NetSize is negative when
// short. AvgPrice is the size-weighted average of the current lot and
// resets when NetSize crosses zero. Updated only by fills.
type Position struct {
	MarketID    string
	NetSize     decimal.Decimal
	AvgPrice    decimal.Decimal
	RealizedPnL decimal.Decimal
	LastMark    decimal.Decimal // last mid used for unrealized PnL
	OpenedTS    time.Time       // when the current lot was opened
	UpdatedTS   time.Time
}

// Flat reports whether the position holds nothing.
func (p Position) Flat() bool {
	return p.NetSize.IsZero()
}

// UnrealizedPnL marks the lot against the given mid.
func (p Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	if p.NetSize.IsZero() {
		return decimal.Zero
	}
	return mark.Sub(p.AvgPrice).Mul(p.NetSize)
}

// Mark returns the price the lot is valued at: the last seen mid, or
// the entry price while no book update has arrived yet. A fresh fill
// carries zero unrealized PnL, never a phantom mark to zero.
func (p Position) Mark() decimal.Decimal {
	if p.LastMark.IsZero() {
		return p.AvgPrice
	}
	return p.LastMark
}

// ReducingSide is the side that shrinks |NetSize|. ok is false when flat.
func (p Position) ReducingSide() (Side, bool) {
	switch {
	case p.NetSize.IsPositive():
		return Sell, true
	case p.NetSize.IsNegative():
		return Buy, true
	default:
		return "", false
	}
}

// PnLSnapshot is one periodic PnL row.
type PnLSnapshot struct {
	TS          time.Time
	Unrealized  decimal.Decimal
	Realized    decimal.Decimal
	OpenMarkets int
}
