package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is one execution against a simulated order. Append-only.
type Fill struct {
	FillID   string
	OrderID  string
	MarketID string
	Side     Side
	Price    decimal.Decimal
	Size     decimal.Decimal
	TS       time.Time
	Fees     decimal.Decimal
}

// SignedSize is +size for buys, -size for sells.
func (f Fill) SignedSize() decimal.Decimal {
	if f.Side == Sell {
		return f.Size.Neg()
	}
	return f.Size
}

// Notional is price * size.
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Size)
}
