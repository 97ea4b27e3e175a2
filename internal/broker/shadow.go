package broker

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// Shadow accepts intents and records what it would have done, without
// ever producing fills or touching positions. Useful for watching a
// strategy's decisions against live data with zero state.
type Shadow struct {
	log *slog.Logger
}

// NewShadow builds the shadow broker.
func NewShadow(log *slog.Logger) *Shadow {
	return &Shadow{log: log.With("component", "shadow_broker")}
}

// Place logs a would-place record. The returned order is immediately
// cancelled so nothing ever rests.
func (s *Shadow) Place(intent domain.QuoteIntent, m domain.Market, book *domain.BookState, now time.Time) (domain.Order, []Execution) {
	s.log.Info("would place",
		"market", intent.MarketID, "side", intent.Side, "type", intent.Type,
		"price", intent.Price, "size", intent.Size, "strategy", intent.Strategy,
	)
	return domain.Order{
		OrderID:      uuid.NewString(),
		MarketID:     intent.MarketID,
		Side:         intent.Side,
		Type:         intent.Type,
		Price:        intent.Price,
		Size:         intent.Size,
		Status:       domain.StatusCancelled,
		Reason:       "shadow",
		CreatedTS:    now,
		FilledSize:   decimal.Zero,
		AvgFillPrice: decimal.Zero,
		Strategy:     intent.Strategy,
	}, nil
}

// Cancel logs a would-cancel record.
func (s *Shadow) Cancel(marketID, orderID string, now time.Time) (domain.Order, bool) {
	s.log.Info("would cancel", "market", marketID, "order", orderID)
	return domain.Order{}, false
}

func (s *Shadow) OnBook(string, *domain.BookState, time.Time) []Execution { return nil }

func (s *Shadow) OnTrade(string, domain.Trade, time.Time) []Execution { return nil }

func (s *Shadow) OpenOrders(string) []domain.Order { return nil }

func (s *Shadow) OpenOrdersFor(string, string) []domain.Order { return nil }

func (s *Shadow) OpenOrderCount() int { return 0 }

func (s *Shadow) CancelMarket(string, time.Time) []domain.Order { return nil }

func (s *Shadow) Rehydrate([]domain.Order) {}
