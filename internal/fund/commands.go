package fund

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"eom_fund/internal/notify"
	"eom_fund/internal/report"
)

type CommandDoc struct {
	Name        string
	Description string
	Example     string
}

// Commands lists what HandleCommand answers.
var Commands = []CommandDoc{
	{"/ping", "Connectivity check", "/ping"},
	{"/status", "NAV, cash and open positions as of the last run", "/status"},
	{"/trades", "Most recent closed trades", "/trades [n]"},
	{"/help", "This list", "/help"},
}

// HandleCommand answers a chat command from the stored books. It never trades.
func (f *Fund) HandleCommand(_ context.Context, cmd string) string {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return ""
	}

	switch parts[0] {
	case "/ping":
		return "Pong 🏓"
	case "/status":
		s, state, _, err := f.Books(f.today())
		if err != nil {
			return fmt.Sprintf("⚠️ Could not load the books: %v", err)
		}
		return notify.StatusMessage(s, state)
	case "/trades":
		n := 5
		if len(parts) > 1 {
			v, err := strconv.Atoi(parts[1])
			if err != nil || v < 1 {
				return "Usage: /trades [n]"
			}
			n = v
		}
		return f.trades(n)
	case "/help":
		var b strings.Builder
		b.WriteString("*Commands*\n")
		for _, c := range Commands {
			fmt.Fprintf(&b, "%s %s (`%s`)\n", c.Name, c.Description, c.Example)
		}
		return strings.TrimSuffix(b.String(), "\n")
	default:
		return "Unknown command. Try /status, /trades or /help."
	}
}

func (f *Fund) trades(n int) string {
	_, _, ledger, err := f.Books(f.today())
	if err != nil {
		return fmt.Sprintf("⚠️ Could not load the books: %v", err)
	}
	closed := report.ClosedTrades(ledger)
	if len(closed) == 0 {
		return "No closed trades yet."
	}
	if len(closed) > n {
		closed = closed[:n]
	}
	var b strings.Builder
	for _, r := range closed {
		fmt.Fprintf(&b, "%s %s → %s P/L %s (%s)\n",
			r.Ticker, r.EntryDate, r.ExitDate, report.Signed(r.PL), report.Percent(r.PLPct))
	}
	return strings.TrimSuffix(b.String(), "\n")
}
