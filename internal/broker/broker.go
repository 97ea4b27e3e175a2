// Package broker simulates order placement and fills against the live
// tape. All methods are called from the scheduler goroutine only.
package broker

import (
	"time"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// Execution pairs a fill with the post-fill state of its order.
type Execution struct {
	Fill  domain.Fill
	Order domain.Order
}

// Broker is the execution surface the scheduler drives. Paper fills
// orders per the configured model; Shadow only records what it would do.
type Broker interface {
	// Place admits an order. Marketable orders fill immediately at the
	// touch; the returned order reflects any instant executions.
	Place(intent domain.QuoteIntent, m domain.Market, book *domain.BookState, now time.Time) (domain.Order, []Execution)

	// Cancel is immediate and idempotent. ok is false when the order is
	// unknown or already terminal, which is a no-op.
	Cancel(marketID, orderID string, now time.Time) (domain.Order, bool)

	// OnBook matches resting orders against an updated book
	// (maker-touch model).
	OnBook(marketID string, book *domain.BookState, now time.Time) []Execution

	// OnTrade matches resting orders against a trade print
	// (trade-through model).
	OnTrade(marketID string, trade domain.Trade, now time.Time) []Execution

	// OpenOrders returns open and partial orders for the market.
	OpenOrders(marketID string) []domain.Order

	// OpenOrdersFor filters OpenOrders by owning strategy.
	OpenOrdersFor(marketID, strategy string) []domain.Order

	// OpenOrderCount counts live orders across all markets.
	OpenOrderCount() int

	// CancelMarket cancels everything in the market and returns the
	// cancelled orders. Used by fail-closed handling and shutdown.
	CancelMarket(marketID string, now time.Time) []domain.Order

	// Rehydrate restores open orders persisted by a previous session.
	Rehydrate(orders []domain.Order)
}
