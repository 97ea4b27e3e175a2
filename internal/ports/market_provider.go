package ports

import (
	"context"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// MarketProvider fetches market metadata from the Gamma API.
type MarketProvider interface {
	// FetchActiveMarkets returns all open markets above minVolumeUSD,
	// paginating until the API is exhausted.
	FetchActiveMarkets(ctx context.Context, minVolumeUSD float64) ([]domain.Market, error)
}
