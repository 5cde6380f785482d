// Package report renders the fund status as markdown, for the terminal and for
// the published status page.
package report

import (
	"fmt"
	"sort"
	"strings"

	"eom_fund/internal/models"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/glamour"
	"github.com/shopspring/decimal"
)

// Currency is the fund's base currency.
const Currency = money.NOK

// Money formats an amount in the fund currency, e.g. "49 826,00 kr".
func Money(amount decimal.Decimal) string {
	cur := money.GetCurrency(Currency)
	minor := amount.Round(int32(cur.Fraction)).Shift(int32(cur.Fraction)).IntPart()
	return money.New(minor, Currency).Display()
}

// Signed is Money with an explicit + for gains.
func Signed(amount decimal.Decimal) string {
	if amount.IsPositive() {
		return "+" + Money(amount)
	}
	return Money(amount)
}

// Percent formats a ratio (0.0384) as "3.84%".
func Percent(ratio decimal.Decimal) string {
	return ratio.Shift(2).StringFixed(2) + "%"
}

// Input is what the status report is built from.
type Input struct {
	Summary models.Summary
	State   models.PortfolioState
	Ledger  []models.TradeRow
	Recent  int // closed trades listed, most recent first
}

// Markdown builds the status report.
func Markdown(in Input) string {
	var b strings.Builder
	s := in.Summary

	fmt.Fprintf(&b, "# Fund status %s\n\n", s.Date)
	b.WriteString("| | |\n|---|---:|\n")
	fmt.Fprintf(&b, "| NAV | %s |\n", Money(s.NAV))
	fmt.Fprintf(&b, "| Initial NAV | %s |\n", Money(s.InitialNAV))
	fmt.Fprintf(&b, "| P/L | %s (%s) |\n", Signed(s.PL), Percent(s.PLPct))
	fmt.Fprintf(&b, "| Cash | %s |\n", Money(s.Cash))
	fmt.Fprintf(&b, "| Fees paid | %s |\n", Money(s.FeesPaid))
	fmt.Fprintf(&b, "| Open positions | %d |\n\n", s.OpenPositions)

	if len(in.State.Positions) > 0 {
		b.WriteString("## Open positions\n\n")
		b.WriteString("| Ticker | Qty | Entry | Entry date | Planned exit | Stake |\n")
		b.WriteString("|---|---:|---:|---|---|---:|\n")
		tickers := make([]string, 0, len(in.State.Positions))
		for t := range in.State.Positions {
			tickers = append(tickers, t)
		}
		sort.Strings(tickers)
		for _, t := range tickers {
			p := in.State.Positions[t]
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				t, p.Qty.StringFixed(4), p.EntryPrice.StringFixed(2), p.EntryDate, p.PlannedExit, Money(p.Stake))
		}
		b.WriteString("\n")
	}

	closed := ClosedTrades(in.Ledger)
	if in.Recent > 0 && len(closed) > in.Recent {
		closed = closed[:in.Recent]
	}
	if len(closed) > 0 {
		b.WriteString("## Recent trades\n\n")
		b.WriteString("| Ticker | Entry | Exit | P/L | P/L % | Reason |\n")
		b.WriteString("|---|---|---|---:|---:|---|\n")
		for _, r := range closed {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				r.Ticker, r.EntryDate, r.ExitDate, Signed(r.PL), Percent(r.PLPct), r.Reason)
		}
	}
	return b.String()
}

// ClosedTrades returns the closed rows, most recent exit first.
func ClosedTrades(rows []models.TradeRow) []models.TradeRow {
	var out []models.TradeRow
	for _, r := range rows {
		if !r.IsOpen() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExitDate != out[j].ExitDate {
			return out[i].ExitDate.After(out[j].ExitDate)
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out
}

// Render formats markdown for a terminal of the given width.
func Render(md string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("report: renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("report: render: %w", err)
	}
	return out, nil
}
