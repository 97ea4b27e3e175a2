package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

const (
	gammaMarketsPath = "/markets"
	gammaPageSize    = 100
	gammaMaxPages    = 50
)

// FetchActiveMarkets returns all open markets above minVolumeUSD,
// paginating until Gamma runs out of results.
func (c *Client) FetchActiveMarkets(ctx context.Context, minVolumeUSD float64) ([]domain.Market, error) {
	var out []domain.Market

	for page := 0; page < gammaMaxPages; page++ {
		url := fmt.Sprintf("%s%s?active=true&closed=false&volume_num_min=%.0f&limit=%d&offset=%d&order=volume24hr&ascending=false",
			c.gammaBase, gammaMarketsPath, minVolumeUSD, gammaPageSize, page*gammaPageSize)

		var resp gammaMarketsResponse
		if err := c.get(ctx, url, &resp); err != nil {
			return nil, fmt.Errorf("polymarket.FetchActiveMarkets: page %d: %w", page, err)
		}
		if len(resp) == 0 {
			break
		}

		for _, gm := range resp {
			m, ok := mapGammaMarket(gm)
			if !ok {
				continue
			}
			out = append(out, m)
		}

		if len(resp) < gammaPageSize {
			break
		}
	}

	slog.Debug("gamma fetch complete", "component", "polymarket", "markets", len(out))
	return out, nil
}

// mapGammaMarket converts a raw Gamma row into a domain market.
// Rows without a condition id or a primary token are skipped.
func mapGammaMarket(gm gammaMarket) (domain.Market, bool) {
	if gm.ConditionID == "" || gm.Closed {
		return domain.Market{}, false
	}

	m := domain.Market{
		MarketID:     gm.ConditionID,
		Question:     gm.Question,
		Status:       domain.MarketOpen,
		Volume24hUSD: numberToFloat(gm.Volume24h),
		LiquidityUSD: numberToFloat(gm.Liquidity),
		ConditionID:  gm.ConditionID,
		TickSize:     numberToDecimal(gm.OrderMinTickSize, domain.DefaultTickSize),
		MinSize:      numberToDecimal(gm.OrderMinSize, decimal.NewFromInt(5)),
	}
	if len(gm.Events) > 0 {
		m.EventID = gm.Events[0].ID
	}
	if m.EventID == "" {
		// Standalone market: its own id is the exposure group.
		m.EventID = gm.ConditionID
	}
	if gm.EndDateISO != "" {
		if ts, err := time.Parse("2006-01-02", gm.EndDateISO); err == nil {
			m.EndTS = ts
		} else if ts, err := time.Parse(time.RFC3339, gm.EndDateISO); err == nil {
			m.EndTS = ts
		}
	}

	// clobTokenIds is a JSON array serialized into a string; the first
	// entry is the Yes outcome token the feed subscribes to.
	var tokenIDs []string
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokenIDs); err != nil || len(tokenIDs) == 0 {
		return domain.Market{}, false
	}
	m.TokenID = tokenIDs[0]

	return m, true
}

func numberToFloat(n json.Number) float64 {
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return f
}

func numberToDecimal(n json.Number, fallback decimal.Decimal) decimal.Decimal {
	if n.String() == "" {
		return fallback
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil || !d.IsPositive() {
		return fallback
	}
	return d
}
