package polymarket

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

func rawMarket() gammaMarket {
	return gammaMarket{
		ID:               "123",
		ConditionID:      "0xcond",
		Question:         "will it resolve yes?",
		EndDateISO:       "2026-06-01",
		Volume24h:        json.Number("54321.5"),
		Liquidity:        json.Number("20000"),
		OrderMinTickSize: json.Number("0.01"),
		OrderMinSize:     json.Number("5"),
		ClobTokenIDs:     `["tok-yes","tok-no"]`,
		Active:           true,
		Events:           []gammaEvent{{ID: "ev-9", Slug: "some-event"}},
	}
}

func TestMapGammaMarket(t *testing.T) {
	m, ok := mapGammaMarket(rawMarket())
	require.True(t, ok)

	assert.Equal(t, "0xcond", m.MarketID)
	assert.Equal(t, "ev-9", m.EventID)
	assert.Equal(t, "tok-yes", m.TokenID, "first clob token is the Yes outcome")
	assert.True(t, m.TickSize.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, m.MinSize.Equal(decimal.RequireFromString("5")))
	assert.Equal(t, domain.MarketOpen, m.Status)
	assert.Equal(t, 54321.5, m.Volume24hUSD)
	assert.Equal(t, 2026, m.EndTS.Year())
}

func TestMapGammaMarket_StandaloneMarketGroupsOnItself(t *testing.T) {
	gm := rawMarket()
	gm.Events = nil

	m, ok := mapGammaMarket(gm)
	require.True(t, ok)
	assert.Equal(t, "0xcond", m.EventID)
}

func TestMapGammaMarket_FallbackTickAndMinSize(t *testing.T) {
	gm := rawMarket()
	gm.OrderMinTickSize = json.Number("")
	gm.OrderMinSize = json.Number("0")

	m, ok := mapGammaMarket(gm)
	require.True(t, ok)
	assert.True(t, m.TickSize.Equal(domain.DefaultTickSize))
	assert.True(t, m.MinSize.Equal(decimal.NewFromInt(5)))
}

func TestMapGammaMarket_SkipsUnusableRows(t *testing.T) {
	noCondition := rawMarket()
	noCondition.ConditionID = ""
	_, ok := mapGammaMarket(noCondition)
	assert.False(t, ok)

	closed := rawMarket()
	closed.Closed = true
	_, ok = mapGammaMarket(closed)
	assert.False(t, ok)

	noTokens := rawMarket()
	noTokens.ClobTokenIDs = `[]`
	_, ok = mapGammaMarket(noTokens)
	assert.False(t, ok)

	badTokens := rawMarket()
	badTokens.ClobTokenIDs = `not json`
	_, ok = mapGammaMarket(badTokens)
	assert.False(t, ok)
}
