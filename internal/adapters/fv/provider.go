// Package fv holds the fair-value provider variants. The engine only
// sees ports.FvProvider; which variant runs is a config choice.
package fv

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Stub never produces a value. With it the fair-value strategy stays
// idle, which is the safe default when no external venue is wired.
type Stub struct{}

// NewStub builds the no-op provider.
func NewStub() Stub { return Stub{} }

// Latest always reports no value.
func (Stub) Latest(string) (decimal.Decimal, time.Time, bool) {
	return decimal.Zero, time.Time{}, false
}

// Static serves manually pinned fair values, mainly for tests and the
// dry-run mode.
type Static struct {
	mu     sync.Mutex
	values map[string]entry
}

type entry struct {
	fv decimal.Decimal
	ts time.Time
}

// NewStatic builds an empty pinned provider.
func NewStatic() *Static {
	return &Static{values: make(map[string]entry)}
}

// Set pins a fair value for the market.
func (s *Static) Set(marketID string, fv decimal.Decimal, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[marketID] = entry{fv: fv, ts: ts}
}

// Latest returns the pinned value, if any.
func (s *Static) Latest(marketID string) (decimal.Decimal, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[marketID]
	return e.fv, e.ts, ok
}

// Mock derives a deterministic fair value from the market id and the
// clock: a slow sine walk around 0.5, bounded to [0.05, 0.95]. Useful
// to exercise the full pipeline without a second venue.
type Mock struct {
	now func() time.Time
}

// NewMock builds the deterministic provider on the given clock.
func NewMock(now func() time.Time) *Mock {
	return &Mock{now: now}
}

// Latest always returns a fresh value.
func (m *Mock) Latest(marketID string) (decimal.Decimal, time.Time, bool) {
	ts := m.now()

	// Stable per-market phase offset from the id bytes.
	var phase float64
	for _, b := range []byte(marketID) {
		phase += float64(b)
	}
	t := float64(ts.Unix()%3600) / 3600 * 2 * math.Pi
	v := 0.5 + 0.3*math.Sin(t+phase)
	v = math.Max(0.05, math.Min(0.95, v))

	return decimal.NewFromFloat(v).Round(4), ts, true
}
