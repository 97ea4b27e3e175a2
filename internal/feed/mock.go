package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// MockSource synthesizes a deterministic feed for dry runs: a seeded
// random walk around 0.5 with book deltas and occasional trade prints.
// It implements ports.FeedSource.
type MockSource struct {
	out      chan domain.TapeEvent
	interval time.Duration

	mu      sync.Mutex
	markets map[string]*mockMarket
	cancel  context.CancelFunc
	closed  bool
}

type mockMarket struct {
	market domain.Market
	mid    float64
	rng    *rand.Rand
}

// NewMockSource builds the source. interval paces event emission.
func NewMockSource(queueSize int, interval time.Duration) *MockSource {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &MockSource{
		out:      make(chan domain.TapeEvent, queueSize),
		interval: interval,
		markets:  make(map[string]*mockMarket),
	}
}

// Events returns the output channel.
func (s *MockSource) Events() <-chan domain.TapeEvent {
	return s.out
}

// Subscribe seeds a walker for the market and emits its first snapshot.
// The per-market seed comes from the id, so runs are reproducible.
func (s *MockSource) Subscribe(ctx context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.MarketID]; ok {
		return nil
	}
	var seed int64
	for _, b := range []byte(m.MarketID) {
		seed = seed*31 + int64(b)
	}
	mm := &mockMarket{market: m, mid: 0.5, rng: rand.New(rand.NewSource(seed))}
	s.markets[m.MarketID] = mm

	if s.cancel == nil && !s.closed {
		runCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.run(runCtx)
	}

	s.emit(s.snapshot(mm, time.Now()))
	return nil
}

// Unsubscribe drops the market. Idempotent.
func (s *MockSource) Unsubscribe(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markets, marketID)
}

// Close stops emission.
func (s *MockSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

func (s *MockSource) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for _, mm := range s.markets {
				s.emit(s.step(mm, now))
			}
			s.mu.Unlock()
		}
	}
}

// step advances the walk one tick and emits a delta or a trade.
func (s *MockSource) step(mm *mockMarket, now time.Time) domain.TapeEvent {
	mm.mid += (mm.rng.Float64() - 0.5) * 0.01
	if mm.mid < 0.05 {
		mm.mid = 0.05
	}
	if mm.mid > 0.95 {
		mm.mid = 0.95
	}

	// Roughly one trade per ten book updates.
	if mm.rng.Intn(10) == 0 {
		side := domain.Buy
		if mm.rng.Intn(2) == 1 {
			side = domain.Sell
		}
		return domain.TapeEvent{
			MarketID: mm.market.MarketID,
			Kind:     domain.EventTrade,
			LocalTS:  now,
			SourceTS: now,
			Trade: &domain.Trade{
				Price: decimal.NewFromFloat(mm.mid).Round(3),
				Size:  decimal.NewFromInt(int64(5 + mm.rng.Intn(50))),
				Side:  side,
				TS:    now,
			},
		}
	}
	return s.snapshot(mm, now)
}

// snapshot builds a two-level book around the current mid.
func (s *MockSource) snapshot(mm *mockMarket, now time.Time) domain.TapeEvent {
	tick := mm.market.Tick()
	mid := decimal.NewFromFloat(mm.mid)
	spread := tick.Mul(decimal.NewFromInt(int64(2 + mm.rng.Intn(4))))

	bid := domain.ClampPrice(domain.FloorToTick(mid.Sub(spread), tick), tick)
	ask := domain.ClampPrice(domain.CeilToTick(mid.Add(spread), tick), tick)
	sz := func() decimal.Decimal { return decimal.NewFromInt(int64(20 + mm.rng.Intn(200))) }

	return domain.TapeEvent{
		MarketID: mm.market.MarketID,
		Kind:     domain.EventSnapshot,
		LocalTS:  now,
		SourceTS: now,
		Bids: []domain.Level{
			{Price: bid, Size: sz()},
			{Price: domain.ClampPrice(bid.Sub(tick), tick), Size: sz()},
		},
		Asks: []domain.Level{
			{Price: ask, Size: sz()},
			{Price: domain.ClampPrice(ask.Add(tick), tick), Size: sz()},
		},
	}
}

func (s *MockSource) emit(ev domain.TapeEvent) {
	select {
	case s.out <- ev:
	default:
	}
}
