package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order or trade.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderType controls what happens to the unfilled remainder of a
// marketable order: a limit rests, an IOC cancels.
type OrderType string

const (
	Limit OrderType = "limit"
	IOC   OrderType = "ioc"
)

// OrderStatus lifecycle: open -> partial -> filled, or open -> cancelled.
// Rejected orders never open.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusPartial   OrderStatus = "partial"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
)

// Order is a simulated order in the paper blotter.
type Order struct {
	OrderID  string
	MarketID string
	Side     Side
	Type     OrderType
	Price    decimal.Decimal
	Size     decimal.Decimal
	Status   OrderStatus

	CreatedTS     time.Time
	RestedSinceTS time.Time // when the order started resting at its current price

	FilledSize   decimal.Decimal
	AvgFillPrice decimal.Decimal
	Reason       string // reject reason, empty otherwise
	Strategy     string // which strategy placed it
}

// Remaining is the unfilled size.
func (o Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// Done reports a terminal status.
func (o Order) Done() bool {
	return o.Status == StatusFilled || o.Status == StatusCancelled || o.Status == StatusRejected
}

// IntentKind discriminates quote intents.
type IntentKind string

const (
	IntentPlace   IntentKind = "place"
	IntentCancel  IntentKind = "cancel"
	IntentReplace IntentKind = "replace"
)

// QuoteIntent is a strategy's proposed action. Intents pass through the
// risk engine before reaching the broker; cancels are never risk-gated.
type QuoteIntent struct {
	Kind     IntentKind
	MarketID string
	Side     Side
	Type     OrderType
	Price    decimal.Decimal
	Size     decimal.Decimal
	OrderID  string // cancel/replace target
	Strategy string
}

// Place builds a placement intent.
func Place(marketID string, side Side, typ OrderType, price, size decimal.Decimal, strategy string) QuoteIntent {
	return QuoteIntent{
		Kind:     IntentPlace,
		MarketID: marketID,
		Side:     side,
		Type:     typ,
		Price:    price,
		Size:     size,
		Strategy: strategy,
	}
}

// Cancel builds a cancel intent.
func Cancel(marketID, orderID, strategy string) QuoteIntent {
	return QuoteIntent{Kind: IntentCancel, MarketID: marketID, OrderID: orderID, Strategy: strategy}
}

// Replace builds a cancel+place intent for an existing order.
func Replace(marketID, orderID string, side Side, price, size decimal.Decimal, strategy string) QuoteIntent {
	return QuoteIntent{
		Kind:     IntentReplace,
		MarketID: marketID,
		Side:     side,
		Type:     Limit,
		Price:    price,
		Size:     size,
		OrderID:  orderID,
		Strategy: strategy,
	}
}
