// Package strategy implements the two quoting strategies as a closed
// variant set. Strategies never mutate shared state; they read the
// per-market view and return intents for the risk engine to gate.
package strategy

import (
	"time"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// Strategy names, also used as the strategy tag on orders.
const (
	NameMarketMaker = "market_maker"
	NameFairValue   = "fair_value"
)

// Input is the per-market view a strategy evaluates. OpenOrders holds
// only this strategy's live orders in the market.
type Input struct {
	Market     domain.Market
	Book       *domain.BookState
	Position   domain.Position
	OpenOrders []domain.Order
	Health     domain.FeedHealth
	Now        time.Time
}

// Strategy produces quote intents for one market.
type Strategy interface {
	Name() string
	Evaluate(in Input) []domain.QuoteIntent
}

// cancelAll emits a cancel for every open order in the input.
func cancelAll(in Input, strategyName string) []domain.QuoteIntent {
	var out []domain.QuoteIntent
	for _, o := range in.OpenOrders {
		out = append(out, domain.Cancel(in.Market.MarketID, o.OrderID, strategyName))
	}
	return out
}

// staleBook is how old the last applied event may be before a book is
// considered untrustworthy for quoting.
const staleBook = 5 * time.Second

func bookStale(in Input) bool {
	return in.Book.LastLocalTS.IsZero() || in.Now.Sub(in.Book.LastLocalTS) > staleBook
}
