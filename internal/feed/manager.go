// Package feed maintains per-market book state and freshness metrics
// from the normalized tape stream.
package feed

import (
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// lagWindow is the rolling sample count for the p99 feed lag.
const lagWindow = 100

// updatesAlpha smooths the updates-per-minute estimate.
const updatesAlpha = 0.2

// Manager owns the in-memory books. It is driven only by the scheduler
// goroutine, so it needs no locking.
type Manager struct {
	log    *slog.Logger
	books  map[string]*domain.BookState
	health map[string]*healthState
}

type healthState struct {
	lags          []float64 // ms, ring buffer
	lagIdx        int
	updatesPerMin float64
	lastArrival   time.Time
	crossed       bool
	suspended     bool // no trusted snapshot yet
}

// NewManager builds an empty manager.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		log:    log.With("component", "feed"),
		books:  make(map[string]*domain.BookState),
		health: make(map[string]*healthState),
	}
}

// Track registers a market. Quoting stays suspended until the first
// snapshot arrives.
func (m *Manager) Track(marketID string) {
	if _, ok := m.health[marketID]; ok {
		return
	}
	m.health[marketID] = &healthState{suspended: true}
}

// Untrack drops the market's book and health.
func (m *Manager) Untrack(marketID string) {
	delete(m.books, marketID)
	delete(m.health, marketID)
}

// Tracked reports whether the market is currently followed.
func (m *Manager) Tracked(marketID string) bool {
	_, ok := m.health[marketID]
	return ok
}

// TrackedIDs returns the followed market ids.
func (m *Manager) TrackedIDs() []string {
	ids := make([]string, 0, len(m.health))
	for id := range m.health {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Apply folds one tape event into the market's book. ok is false when
// the event was dropped (untracked market, or a delta with no trusted
// snapshot underneath).
func (m *Manager) Apply(ev domain.TapeEvent) (book *domain.BookState, ok bool) {
	hs, tracked := m.health[ev.MarketID]
	if !tracked {
		return nil, false
	}
	m.observeArrival(hs, ev)

	b, hasBook := m.books[ev.MarketID]

	switch ev.Kind {
	case domain.EventSnapshot:
		if !hasBook {
			b = &domain.BookState{MarketID: ev.MarketID}
			m.books[ev.MarketID] = b
		}
		b.ApplySnapshot(ev.Bids, ev.Asks, ev.SourceTS, ev.LocalTS, ev.Seq)
		hs.suspended = false

	case domain.EventDelta:
		if !hasBook || hs.suspended {
			return nil, false
		}
		if ev.Seq != 0 && b.Seq != 0 && ev.Seq != b.Seq+1 {
			// Gap: the book can no longer be trusted until resynced.
			m.log.Warn("sequence gap, suspending market",
				"market", ev.MarketID, "have", b.Seq, "got", ev.Seq)
			hs.suspended = true
			return nil, false
		}
		b.ApplyDelta(ev.Bids, ev.Asks, ev.SourceTS, ev.LocalTS, ev.Seq)

	case domain.EventTrade:
		if !hasBook {
			return nil, false
		}
		trade := *ev.Trade
		b.LastTrade = &trade
		b.LastUpdateTS = ev.SourceTS
		b.LastLocalTS = ev.LocalTS

	default:
		return nil, false
	}

	wasCrossed := hs.crossed
	hs.crossed = b.Crossed()
	if hs.crossed && !wasCrossed {
		m.log.Warn("crossed book, quoting suspended", "market", ev.MarketID)
	}
	return b, true
}

// Book returns the market's book, nil when no snapshot has applied yet.
func (m *Manager) Book(marketID string) *domain.BookState {
	return m.books[marketID]
}

// Health returns the market's current freshness view.
func (m *Manager) Health(marketID string) domain.FeedHealth {
	hs, ok := m.health[marketID]
	if !ok {
		return domain.FeedHealth{MarketID: marketID, Suspended: true}
	}
	return domain.FeedHealth{
		MarketID:      marketID,
		FeedLagP99MS:  p99(hs.lags),
		UpdatesPerMin: hs.updatesPerMin,
		Crossed:       hs.crossed,
		Suspended:     hs.suspended,
	}
}

// Suspend forces the market into the no-quoting state until the next
// snapshot. Used by fail-closed handling.
func (m *Manager) Suspend(marketID string) {
	if hs, ok := m.health[marketID]; ok {
		hs.suspended = true
	}
}

func (m *Manager) observeArrival(hs *healthState, ev domain.TapeEvent) {
	if !ev.SourceTS.IsZero() {
		lag := float64(ev.LocalTS.Sub(ev.SourceTS)) / float64(time.Millisecond)
		if lag >= 0 {
			if len(hs.lags) < lagWindow {
				hs.lags = append(hs.lags, lag)
			} else {
				hs.lags[hs.lagIdx] = lag
				hs.lagIdx = (hs.lagIdx + 1) % lagWindow
			}
		}
	}

	if !hs.lastArrival.IsZero() {
		gap := ev.LocalTS.Sub(hs.lastArrival)
		if gap > 0 {
			instant := float64(time.Minute) / float64(gap)
			hs.updatesPerMin = updatesAlpha*instant + (1-updatesAlpha)*hs.updatesPerMin
		}
	}
	hs.lastArrival = ev.LocalTS
}

// p99 computes the 99th percentile over the rolling window.
func p99(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	idx := (len(sorted)*99 + 99) / 100
	if idx > len(sorted) {
		idx = len(sorted)
	}
	return sorted[idx-1]
}
