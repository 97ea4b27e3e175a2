package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// mockProvider serves a fixed set of synthetic markets for dry runs, so
// the selector and the mock feed have something to chew on without
// touching the venue.
type mockProvider struct{}

func (mockProvider) FetchActiveMarkets(_ context.Context, _ float64) ([]domain.Market, error) {
	markets := make([]domain.Market, 0, 5)
	for i := 1; i <= 5; i++ {
		markets = append(markets, domain.Market{
			MarketID:     fmt.Sprintf("dry-market-%d", i),
			EventID:      fmt.Sprintf("dry-event-%d", (i+1)/2),
			Question:     fmt.Sprintf("Synthetic market %d resolves yes?", i),
			TickSize:     domain.DefaultTickSize,
			MinSize:      decimal.NewFromInt(5),
			Status:       domain.MarketOpen,
			EndTS:        time.Now().Add(72 * time.Hour),
			Volume24hUSD: float64(50_000 * i),
			LiquidityUSD: float64(20_000 * i),
		})
	}
	return markets, nil
}
