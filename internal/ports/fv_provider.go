package ports

import (
	"time"

	"github.com/shopspring/decimal"
)

// FvProvider supplies an external fair value estimate for a market.
// The fair-value strategy treats a missing or stale value as "do not trade".
type FvProvider interface {
	// Latest returns the most recent fair value in [0, 1] and its
	// timestamp. ok is false when no value has been observed yet.
	Latest(marketID string) (fv decimal.Decimal, ts time.Time, ok bool)
}
