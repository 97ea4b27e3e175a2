// Package notify renders operator-facing console output.
package notify

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// Console implements ports.Notifier on a plain writer.
type Console struct {
	out io.Writer
}

// NewConsole writes to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter writes to the given writer, for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// NotifyWatchlist renders the selector's current ranking.
func (c *Console) NotifyWatchlist(wl domain.Watchlist, markets map[string]domain.Market) {
	if len(wl.Entries) == 0 {
		fmt.Fprintf(c.out, "[%s] watchlist empty\n", wl.TS.Format("15:04:05"))
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Market", "Question", "Score", "Vol 24h", "Liquidity")

	for _, e := range wl.Entries {
		m := markets[e.MarketID]
		table.Append(
			fmt.Sprintf("%d", e.Rank),
			shorten(e.MarketID, 14),
			shorten(m.Question, 40),
			fmt.Sprintf("%.2f", e.Score),
			fmt.Sprintf("$%.0f", m.Volume24hUSD),
			fmt.Sprintf("$%.0f", m.LiquidityUSD),
		)
	}
	table.Render()
}

// NotifySessionReport renders positions and PnL at shutdown.
func (c *Console) NotifySessionReport(positions []domain.Position, snap domain.PnLSnapshot, fills int) {
	fmt.Fprintf(c.out, "\nsession report %s | realized %s, unrealized %s, fills %d\n",
		time.Now().Format("2006-01-02 15:04:05"),
		snap.Realized.StringFixed(2), snap.Unrealized.StringFixed(2), fills)

	open := 0
	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Net", "Avg px", "Mark", "Unrlzd", "Rlzd")
	for _, p := range positions {
		if p.Flat() && p.RealizedPnL.IsZero() {
			continue
		}
		open++
		table.Append(
			shorten(p.MarketID, 14),
			p.NetSize.String(),
			p.AvgPrice.StringFixed(3),
			p.Mark().StringFixed(3),
			p.UnrealizedPnL(p.Mark()).StringFixed(2),
			p.RealizedPnL.StringFixed(2),
		)
	}
	if open == 0 {
		fmt.Fprintln(c.out, "no positions touched this session")
		return
	}
	table.Render()
}

// StatusLine prints the periodic one-line paper status.
func (c *Console) StatusLine(now time.Time, watched, openOrders, openPositions int, realized, unrealized decimal.Decimal) {
	fmt.Fprintf(c.out, "[%s] watching %d | orders %d | positions %d | rlzd %s | unrlzd %s\n",
		now.Format("15:04:05"), watched, openOrders, openPositions,
		realized.StringFixed(2), unrealized.StringFixed(2))
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
