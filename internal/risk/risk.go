// Package risk gates every order intent before it reaches the broker.
package risk

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polypaper/config"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/metrics"
	"github.com/alejandrodnm/polypaper/internal/portfolio"
)

// Rule tags surfaced in reject records.
const (
	RuleKillSwitch  = "kill_switch"
	RuleDailyLoss   = "daily_loss"
	RuleFeedLag     = "feed_lag"
	RuleSpread      = "spread"
	RulePosition    = "per_market_position"
	RuleEventExp    = "event_exposure"
	RuleOpenMarkets = "max_open_positions"
)

// rejectLogThrottle caps reject logging per (market, side, rule).
const rejectLogThrottle = 5 * time.Second

// Verdict is the outcome of one check. Rule is set on rejection.
type Verdict struct {
	OK   bool
	Rule string
}

// Engine evaluates the ordered rule set. Stateless over the portfolio
// except for the kill switch and the log throttle; it is only called
// from the scheduler goroutine.
type Engine struct {
	cfg *config.Config
	log *slog.Logger

	killSwitch bool
	lastLog    map[string]time.Time
}

// NewEngine builds the risk engine.
func NewEngine(cfg *config.Config, log *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		log:     log.With("component", "risk"),
		lastLog: make(map[string]time.Time),
	}
}

// SetKillSwitch trips or clears the global placement block.
func (e *Engine) SetKillSwitch(on bool) {
	e.killSwitch = on
}

// KillSwitch reports the current flag.
func (e *Engine) KillSwitch() bool {
	return e.killSwitch
}

// Check runs the rules in order and stops at the first failure.
// Cancels always pass. Orders that strictly reduce the position are
// exempt from the kill switch, the daily loss limit and the position
// cap, otherwise a tripped limit could never be flattened.
func (e *Engine) Check(intent domain.QuoteIntent, port *portfolio.Portfolio, health domain.FeedHealth, spreadBPS float64, now time.Time) Verdict {
	if intent.Kind == domain.IntentCancel {
		return Verdict{OK: true}
	}

	pos := port.Position(intent.MarketID)
	signed := intent.Size
	if intent.Side == domain.Sell {
		signed = signed.Neg()
	}
	newNet := pos.NetSize.Add(signed)
	reducing := newNet.Abs().LessThan(pos.NetSize.Abs())

	// 1. Kill switch.
	if e.killSwitch && !reducing {
		return e.reject(intent, RuleKillSwitch, now)
	}

	// 2. Daily loss limit.
	if !reducing {
		loss := port.RealizedToday(now).Add(port.TotalUnrealized())
		limit := decimal.NewFromFloat(e.cfg.Risk.DailyLossLimit).Neg()
		if loss.LessThanOrEqual(limit) {
			return e.reject(intent, RuleDailyLoss, now)
		}
	}

	// 3. Feed lag.
	if health.FeedLagP99MS > e.cfg.Risk.RejectFeedLagMS {
		return e.reject(intent, RuleFeedLag, now)
	}

	// 4. Spread circuit breaker.
	if health.Crossed || health.Suspended || spreadBPS > e.cfg.Risk.MaxSpreadBPS {
		return e.reject(intent, RuleSpread, now)
	}

	// 5. Per-market position cap.
	maxPos := decimal.NewFromFloat(e.cfg.Risk.MaxPositionPerMarket)
	if newNet.Abs().GreaterThan(maxPos) && !reducing {
		return e.reject(intent, RulePosition, now)
	}

	// 6. Per-event exposure.
	if eventID := port.EventOf(intent.MarketID); eventID != "" {
		current := port.EventExposure(eventID)
		// Project the intent into the event total at its own price.
		old := pos.NetSize.Mul(pos.Mark()).Abs()
		projected := current.Sub(old).Add(newNet.Mul(intent.Price).Abs())
		if projected.GreaterThan(decimal.NewFromFloat(e.cfg.Risk.MaxEventExposureUSD)) && !reducing {
			return e.reject(intent, RuleEventExp, now)
		}
	}

	// 7. Max open positions.
	if pos.Flat() && port.OpenMarkets() >= e.cfg.Risk.MaxOpenPositions {
		return e.reject(intent, RuleOpenMarkets, now)
	}

	return Verdict{OK: true}
}

// reject records the verdict, counts it, and logs it throttled.
func (e *Engine) reject(intent domain.QuoteIntent, rule string, now time.Time) Verdict {
	metrics.RiskRejectsTotal.WithLabelValues(rule).Inc()

	key := intent.MarketID + "|" + string(intent.Side) + "|" + rule
	if last, ok := e.lastLog[key]; !ok || now.Sub(last) >= rejectLogThrottle {
		e.lastLog[key] = now
		e.log.Warn("intent rejected",
			"rule", rule,
			"market", intent.MarketID,
			"side", intent.Side,
			"price", intent.Price,
			"size", intent.Size,
			"strategy", intent.Strategy,
		)
	}
	return Verdict{OK: false, Rule: rule}
}
