package broker

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polypaper/config"
	"github.com/alejandrodnm/polypaper/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func paperConfig(fillModel string) *config.Config {
	cfg := &config.Config{}
	cfg.Run.FillModel = fillModel
	cfg.Paper.Participation = 0.5
	cfg.Paper.MinRestSecs = 1
	return cfg
}

func newTestPaper(fillModel string) *Paper {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPaper(paperConfig(fillModel), log)
	p.SetIDGenerator(SequentialIDs("t"))
	return p
}

func testMarket() domain.Market {
	return domain.Market{MarketID: "m1", TickSize: d("0.01"), MinSize: d("1")}
}

func makeBook(bid, bidSize, ask, askSize string, now time.Time) *domain.BookState {
	b := &domain.BookState{MarketID: "m1"}
	var bids, asks []domain.Level
	if bid != "" {
		bids = []domain.Level{{Price: d(bid), Size: d(bidSize)}}
	}
	if ask != "" {
		asks = []domain.Level{{Price: d(ask), Size: d(askSize)}}
	}
	b.ApplySnapshot(bids, asks, now, now, 0)
	return b
}

func buyIntent(price, size string) domain.QuoteIntent {
	return domain.Place("m1", domain.Buy, domain.Limit, d(price), d(size), "test")
}

func TestPaper_MakerTouchFillsWhenAskCollapses(t *testing.T) {
	p := newTestPaper(config.FillMakerTouch)
	now := time.Now()

	// Rest a bid at 0.49 below the 0.50 ask.
	order, execs := p.Place(buyIntent("0.49", "10"), testMarket(), makeBook("0.48", "50", "0.50", "50", now), now)
	require.Empty(t, execs)
	require.Equal(t, domain.StatusOpen, order.Status)

	// Ask collapses to 0.49 with size 40 after the minimum rest.
	later := now.Add(2 * time.Second)
	execs = p.OnBook("m1", makeBook("0.47", "50", "0.49", "40", later), later)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Fill.Price.Equal(d("0.49")), "fills at the order's own limit price")
	assert.True(t, execs[0].Fill.Size.Equal(d("10")), "min(remaining 10, 40*0.5)")
	assert.Equal(t, domain.StatusFilled, execs[0].Order.Status)
	assert.Zero(t, p.OpenOrderCount(), "filled order leaves the blotter")
}

func TestPaper_MakerTouchRespectsMinRest(t *testing.T) {
	p := newTestPaper(config.FillMakerTouch)
	now := time.Now()
	p.Place(buyIntent("0.49", "10"), testMarket(), makeBook("0.48", "50", "0.50", "50", now), now)

	// Touch crosses 500ms later, before the 1s minimum rest.
	execs := p.OnBook("m1", makeBook("0.47", "50", "0.49", "40", now), now.Add(500*time.Millisecond))
	assert.Empty(t, execs)
}

func TestPaper_TradeThroughFillsOnCrossingPrint(t *testing.T) {
	p := newTestPaper(config.FillTradeThrough)
	now := time.Now()
	p.Place(buyIntent("0.49", "10"), testMarket(), makeBook("0.48", "50", "0.50", "50", now), now)

	later := now.Add(2 * time.Second)
	trade := domain.Trade{Price: d("0.485"), Size: d("20"), Side: domain.Sell, TS: later}
	execs := p.OnTrade("m1", trade, later)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Fill.Price.Equal(d("0.49")), "maker price, not the print")
	assert.True(t, execs[0].Fill.Size.Equal(d("10")), "min(10, 20*0.5)")

	// A print above the bid does not touch it.
	p.Place(buyIntent("0.45", "10"), testMarket(), makeBook("0.44", "50", "0.50", "50", later), later)
	execs = p.OnTrade("m1", domain.Trade{Price: d("0.47"), Size: d("20"), Side: domain.Sell, TS: later}, later.Add(2*time.Second))
	assert.Empty(t, execs)
}

func TestPaper_TradeThroughIgnoresBookUpdates(t *testing.T) {
	p := newTestPaper(config.FillTradeThrough)
	now := time.Now()
	p.Place(buyIntent("0.49", "10"), testMarket(), makeBook("0.48", "50", "0.50", "50", now), now)

	execs := p.OnBook("m1", makeBook("0.47", "50", "0.49", "40", now), now.Add(2*time.Second))
	assert.Empty(t, execs, "book touches never fill under trade_through")
}

func TestPaper_MarketableAtPlacementFillsAtTouch(t *testing.T) {
	p := newTestPaper(config.FillMakerTouch)
	now := time.Now()

	order, execs := p.Place(buyIntent("0.55", "10"), testMarket(), makeBook("0.48", "50", "0.50", "4", now), now)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Fill.Price.Equal(d("0.50")), "fills at the touch, not the limit")
	assert.True(t, execs[0].Fill.Size.Equal(d("4")), "capped by top-of-book size")
	assert.Equal(t, domain.StatusPartial, order.Status)
	assert.Equal(t, 1, p.OpenOrderCount(), "remainder rests")
}

func TestPaper_IOCRemainderCancels(t *testing.T) {
	p := newTestPaper(config.FillMakerTouch)
	now := time.Now()

	intent := domain.Place("m1", domain.Buy, domain.IOC, d("0.55"), d("10"), "test")
	order, execs := p.Place(intent, testMarket(), makeBook("0.48", "50", "0.50", "4", now), now)
	require.Len(t, execs, 1)
	assert.Equal(t, domain.StatusCancelled, order.Status)
	assert.Equal(t, "ioc_remainder", order.Reason)
	assert.Zero(t, p.OpenOrderCount())

	// Unmarketable IOC cancels outright.
	order, execs = p.Place(intent, testMarket(), makeBook("0.48", "50", "0.60", "50", now), now)
	assert.Empty(t, execs)
	assert.Equal(t, domain.StatusCancelled, order.Status)
	assert.Equal(t, "ioc_unmarketable", order.Reason)
}

func TestPaper_RejectsInvalidPrices(t *testing.T) {
	p := newTestPaper(config.FillMakerTouch)
	now := time.Now()
	book := makeBook("0.48", "50", "0.52", "50", now)

	for _, price := range []string{"0", "1", "0.475"} {
		order, execs := p.Place(buyIntent(price, "10"), testMarket(), book, now)
		assert.Equal(t, domain.StatusRejected, order.Status, "price %s", price)
		assert.Equal(t, "invalid_price_or_size", order.Reason)
		assert.Empty(t, execs)
	}

	// Boundary grid prices are tradable.
	for _, price := range []string{"0.01", "0.99"} {
		order, _ := p.Place(buyIntent(price, "10"), testMarket(), book, now)
		assert.NotEqual(t, domain.StatusRejected, order.Status, "price %s", price)
	}
}

func TestPaper_CancelIsIdempotent(t *testing.T) {
	p := newTestPaper(config.FillMakerTouch)
	now := time.Now()
	order, _ := p.Place(buyIntent("0.45", "10"), testMarket(), makeBook("0.48", "50", "0.52", "50", now), now)

	_, ok := p.Cancel("m1", order.OrderID, now)
	require.True(t, ok)
	_, ok = p.Cancel("m1", order.OrderID, now)
	assert.False(t, ok, "second cancel is a no-op")
	_, ok = p.Cancel("m1", "nope", now)
	assert.False(t, ok)
}

func TestPaper_SlippageAndFees(t *testing.T) {
	cfg := paperConfig(config.FillMakerTouch)
	cfg.Paper.SlippageBPS = 100
	cfg.Paper.FeesBPS = 200
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPaper(cfg, log)
	now := time.Now()

	_, execs := p.Place(buyIntent("0.55", "10"), testMarket(), makeBook("0.48", "50", "0.50", "20", now), now)
	require.Len(t, execs, 1)

	// 100 bps against the buyer: 0.50 * 1.01 = 0.505.
	assert.True(t, execs[0].Fill.Price.Equal(d("0.505")), "got %s", execs[0].Fill.Price)
	// 200 bps on the slipped notional: 0.505 * 10 * 0.02 = 0.101.
	assert.True(t, execs[0].Fill.Fees.Equal(d("0.101")), "got %s", execs[0].Fill.Fees)
}

func TestPaper_CancelMarketPullsEverything(t *testing.T) {
	p := newTestPaper(config.FillMakerTouch)
	now := time.Now()
	book := makeBook("0.48", "50", "0.52", "50", now)
	p.Place(buyIntent("0.45", "10"), testMarket(), book, now)
	p.Place(domain.Place("m1", domain.Sell, domain.Limit, d("0.55"), d("10"), "test"), testMarket(), book, now)
	require.Equal(t, 2, p.OpenOrderCount())

	cancelled := p.CancelMarket("m1", now)
	assert.Len(t, cancelled, 2)
	assert.Zero(t, p.OpenOrderCount())
}

func TestPaper_RehydrateRestoresOnlyLiveOrders(t *testing.T) {
	p := newTestPaper(config.FillMakerTouch)
	p.Rehydrate([]domain.Order{
		{OrderID: "o1", MarketID: "m1", Side: domain.Buy, Status: domain.StatusOpen, Price: d("0.45"), Size: d("10"), FilledSize: decimal.Zero},
		{OrderID: "o2", MarketID: "m1", Side: domain.Buy, Status: domain.StatusFilled, Price: d("0.45"), Size: d("10"), FilledSize: d("10")},
	})
	assert.Equal(t, 1, p.OpenOrderCount())
}

func TestSequentialIDs_Deterministic(t *testing.T) {
	gen := SequentialIDs("bt")
	assert.Equal(t, "bt-00000001", gen())
	assert.Equal(t, "bt-00000002", gen())
}
