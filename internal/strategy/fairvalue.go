package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polypaper/config"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/ports"
)

// FairValue trades the gap between an external fair value and the
// market's mid. Entries cross the touch with IOC orders; exits fire
// when the edge collapses or the position ages out.
//
// The entry edge is padded with the configured frictions so a fill
// that merely pays the fees and slippage back is never taken.
type FairValue struct {
	provider ports.FvProvider

	entryEdge    decimal.Decimal
	exitEdge     decimal.Decimal
	depthMult    decimal.Decimal
	targetSize   decimal.Decimal
	buffer       decimal.Decimal // fees + slippage + latency bps as a multiplier
	maxStaleness time.Duration
	timeStop     time.Duration
	cooldown     time.Duration

	lastAction map[string]time.Time
}

// NewFairValue builds the strategy from config.
func NewFairValue(cfg *config.Config, provider ports.FvProvider) *FairValue {
	return &FairValue{
		provider:     provider,
		entryEdge:    decimal.NewFromFloat(cfg.FV.EntryEdge),
		exitEdge:     decimal.NewFromFloat(cfg.FV.ExitEdge),
		depthMult:    decimal.NewFromFloat(cfg.FV.DepthMult),
		targetSize:   decimal.NewFromFloat(cfg.Strategy.TargetSize),
		buffer:       domain.BPSFactor(cfg.Paper.FeesBPS + cfg.Paper.SlippageBPS + cfg.Paper.LatencyBPS),
		maxStaleness: time.Duration(cfg.FV.MaxStalenessMS) * time.Millisecond,
		timeStop:     time.Duration(cfg.FV.TimeStopSecs) * time.Second,
		cooldown:     time.Duration(cfg.FV.CooldownSecs) * time.Second,
		lastAction:   make(map[string]time.Time),
	}
}

func (f *FairValue) Name() string { return NameFairValue }

// Evaluate decides one action per call: exit, enter, or nothing.
func (f *FairValue) Evaluate(in Input) []domain.QuoteIntent {
	book := in.Book
	bid, okB := book.BestBid()
	ask, okA := book.BestAsk()
	if !okB || !okA || book.Crossed() || in.Health.Crossed || in.Health.Suspended || bookStale(in) {
		return nil
	}
	mid, _ := book.Mid()

	fv, ts, ok := f.provider.Latest(in.Market.MarketID)
	fvFresh := ok && in.Now.Sub(ts) <= f.maxStaleness

	marketID := in.Market.MarketID
	pos := in.Position

	// Exit first: edge collapsed or position aged out. The time stop
	// works even on a stale fair value.
	if !pos.Flat() {
		aged := !pos.OpenedTS.IsZero() && in.Now.Sub(pos.OpenedTS) >= f.timeStop
		converged := fvFresh && fv.Sub(mid).Abs().LessThan(f.exitEdge)
		if aged || converged {
			if !f.cooled(marketID, in.Now) {
				return nil
			}
			f.lastAction[marketID] = in.Now
			if pos.NetSize.IsPositive() {
				return []domain.QuoteIntent{domain.Place(marketID, domain.Sell, domain.IOC, bid.Price, pos.NetSize, NameFairValue)}
			}
			return []domain.QuoteIntent{domain.Place(marketID, domain.Buy, domain.IOC, ask.Price, pos.NetSize.Abs(), NameFairValue)}
		}
		return nil
	}

	// Entry requires a fresh value, a padded edge, touch depth, and a
	// quiet cooldown window.
	if !fvFresh {
		return nil
	}
	edge := fv.Sub(mid)
	required := f.entryEdge.Add(mid.Mul(f.buffer))
	if edge.Abs().LessThanOrEqual(required) {
		return nil
	}
	if !f.cooled(marketID, in.Now) {
		return nil
	}

	needDepth := f.targetSize.Mul(f.depthMult)
	if edge.IsPositive() {
		// Market underpriced: lift the ask.
		if ask.Size.LessThan(needDepth) {
			return nil
		}
		f.lastAction[marketID] = in.Now
		return []domain.QuoteIntent{domain.Place(marketID, domain.Buy, domain.IOC, ask.Price, f.targetSize, NameFairValue)}
	}
	// Market overpriced: hit the bid.
	if bid.Size.LessThan(needDepth) {
		return nil
	}
	f.lastAction[marketID] = in.Now
	return []domain.QuoteIntent{domain.Place(marketID, domain.Sell, domain.IOC, bid.Price, f.targetSize, NameFairValue)}
}

func (f *FairValue) cooled(marketID string, now time.Time) bool {
	last, ok := f.lastAction[marketID]
	return !ok || now.Sub(last) >= f.cooldown
}
