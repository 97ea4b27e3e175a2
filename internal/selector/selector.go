// Package selector discovers and ranks tradable markets.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/polypaper/config"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/metrics"
	"github.com/alejandrodnm/polypaper/internal/ports"
)

// maxFailures pauses the scheduler when no good watchlist exists after
// this many consecutive refresh errors.
const maxFailures = 5

// strikeLimit drops a watched market after failing thresholds on this
// many consecutive ticks.
const strikeLimit = 2

// HealthFunc exposes feed metrics to the selector. ok is false while
// the feed has no data for the market, in which case the spread and
// update-rate thresholds are waived so metadata-only markets can seed
// the watchlist before the feed warms up.
type HealthFunc func(marketID string) (health domain.FeedHealth, spreadBPS float64, ok bool)

// Selector periodically rebuilds the ranked watchlist.
type Selector struct {
	provider ports.MarketProvider
	health   HealthFunc
	cfg      *config.Config
	log      *slog.Logger

	last     domain.Watchlist
	haveGood bool
	markets  map[string]domain.Market
	strikes  map[string]int
	failures int
}

// New builds the selector.
func New(provider ports.MarketProvider, health HealthFunc, cfg *config.Config, log *slog.Logger) *Selector {
	return &Selector{
		provider: provider,
		health:   health,
		cfg:      cfg,
		log:      log.With("component", "selector"),
		markets:  make(map[string]domain.Market),
		strikes:  make(map[string]int),
	}
}

// Refresh fetches metadata and rebuilds the watchlist. On error it
// keeps serving the previous good watchlist. Idempotent per tick.
func (s *Selector) Refresh(ctx context.Context, now time.Time) (domain.Watchlist, domain.WatchlistDiff, error) {
	fetched, err := s.provider.FetchActiveMarkets(ctx, s.cfg.Selector.Min24hVolumeUSD)
	if err != nil {
		s.failures++
		s.log.Warn("metadata fetch failed, keeping previous watchlist",
			"err", err, "consecutive", s.failures)
		return s.last, domain.WatchlistDiff{}, fmt.Errorf("selector.Refresh: %w", err)
	}
	s.failures = 0

	for _, m := range fetched {
		s.markets[m.MarketID] = m
	}

	wl := s.rank(fetched, now)
	diff := diffWatchlists(s.last, wl)
	s.last = wl
	s.haveGood = true
	metrics.WatchlistSize.Set(float64(len(wl.Entries)))

	if !diff.Empty() {
		s.log.Info("watchlist updated",
			"markets", wl.IDs(),
			"added", diff.Added, "removed", diff.Removed, "reranked", len(diff.Reranked))
	}
	return wl, diff, nil
}

// rank scores eligible markets and keeps the top N.
func (s *Selector) rank(fetched []domain.Market, now time.Time) domain.Watchlist {
	onList := make(map[string]bool, len(s.last.Entries))
	for _, e := range s.last.Entries {
		onList[e.MarketID] = true
	}

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored

	for _, m := range fetched {
		// Closed or resolved markets never rank.
		if m.Status == domain.MarketClosed || (!m.EndTS.IsZero() && m.HoursToEnd(now) <= 0) {
			delete(s.strikes, m.MarketID)
			continue
		}
		eligible := s.eligible(m)
		if !eligible {
			// Incumbents survive one failing tick.
			if onList[m.MarketID] {
				s.strikes[m.MarketID]++
				if s.strikes[m.MarketID] < strikeLimit {
					candidates = append(candidates, scored{m.MarketID, s.score(m)})
				}
			}
			continue
		}
		s.strikes[m.MarketID] = 0
		candidates = append(candidates, scored{m.MarketID, s.score(m)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > s.cfg.Selector.TopN {
		candidates = candidates[:s.cfg.Selector.TopN]
	}

	wl := domain.Watchlist{TS: now}
	eligibleUntil := now.Add(2 * s.cfg.SelectorInterval())
	for i, c := range candidates {
		wl.Entries = append(wl.Entries, domain.WatchlistEntry{
			MarketID:      c.id,
			Score:         c.score,
			Rank:          i + 1,
			EligibleUntil: eligibleUntil,
		})
	}
	return wl
}

// eligible applies the thresholds. Spread and update-rate gates only
// bind once the feed has observed the market.
func (s *Selector) eligible(m domain.Market) bool {
	sc := s.cfg.Selector
	if m.Volume24hUSD < sc.Min24hVolumeUSD || m.LiquidityUSD < sc.MinLiquidityUSD {
		return false
	}
	health, spreadBPS, ok := s.health(m.MarketID)
	if !ok {
		return true
	}
	if spreadBPS < sc.MinSpreadBPS {
		return false
	}
	if health.UpdatesPerMin < sc.MinUpdatesMin {
		return false
	}
	return true
}

// score = w_v*log(volume) + w_l*log(liquidity) + w_s*spread_bps + w_u*upm
func (s *Selector) score(m domain.Market) float64 {
	sc := s.cfg.Selector
	score := sc.WeightVolume*math.Log(math.Max(1, m.Volume24hUSD)) +
		sc.WeightLiquidity*math.Log(math.Max(1, m.LiquidityUSD))
	if health, spreadBPS, ok := s.health(m.MarketID); ok {
		score += sc.WeightSpread*spreadBPS + sc.WeightUpdates*health.UpdatesPerMin
	}
	return score
}

// Watchlist returns the last good watchlist.
func (s *Selector) Watchlist() domain.Watchlist {
	return s.last
}

// Market returns cached metadata for the id.
func (s *Selector) Market(marketID string) (domain.Market, bool) {
	m, ok := s.markets[marketID]
	return m, ok
}

// Markets returns the metadata cache.
func (s *Selector) Markets() map[string]domain.Market {
	return s.markets
}

// Paused reports whether the scheduler must stop quoting: repeated
// refresh failures with no good watchlist ever built.
func (s *Selector) Paused() bool {
	return !s.haveGood && s.failures >= maxFailures
}

// NextDelay returns the retry backoff after a failed refresh,
// 1s doubling to a 30s cap.
func (s *Selector) NextDelay() time.Duration {
	if s.failures == 0 {
		return 0
	}
	d := time.Second << uint(s.failures-1)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Rehydrate seeds the metadata cache from storage so a restart can
// resubscribe before the first refresh completes.
func (s *Selector) Rehydrate(markets []domain.Market) {
	for _, m := range markets {
		s.markets[m.MarketID] = m
	}
}

func diffWatchlists(prev, next domain.Watchlist) domain.WatchlistDiff {
	prevRank := make(map[string]int, len(prev.Entries))
	for _, e := range prev.Entries {
		prevRank[e.MarketID] = e.Rank
	}
	nextIDs := make(map[string]bool, len(next.Entries))

	var diff domain.WatchlistDiff
	for _, e := range next.Entries {
		nextIDs[e.MarketID] = true
		old, was := prevRank[e.MarketID]
		switch {
		case !was:
			diff.Added = append(diff.Added, e.MarketID)
		case old != e.Rank:
			diff.Reranked = append(diff.Reranked, e.MarketID)
		}
	}
	for _, e := range prev.Entries {
		if !nextIDs[e.MarketID] {
			diff.Removed = append(diff.Removed, e.MarketID)
		}
	}
	return diff
}
