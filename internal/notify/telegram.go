// Package notify tells the operator what a run did.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"eom_fund/internal/logger"
	"eom_fund/internal/models"
	"eom_fund/internal/report"
)

const telegramAPI = "https://api.telegram.org"

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop is used when no channel is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Telegram sends Markdown messages to one chat.
type Telegram struct {
	Token   string
	ChatID  string
	BaseURL string
	HTTP    *http.Client
}

// New returns a Telegram notifier, or Nop when credentials are missing.
func New(token, chatID string) Notifier {
	if token == "" || chatID == "" {
		log.Println("WARN: Telegram credentials missing, notifications disabled")
		return Nop{}
	}
	return &Telegram{
		Token:   token,
		ChatID:  chatID,
		BaseURL: telegramAPI,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	logger.Debugf("Telegram Notify: %s", text)

	body, err := json.Marshal(map[string]string{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.BaseURL, t.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.HTTP.Do(req)
	if err != nil {
		// the URL carries the token
		return errors.New("notify: telegram request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify: telegram API status %s", resp.Status)
	}
	return nil
}

// RunMessage summarises the trades of a run. It is empty when nothing traded.
func RunMessage(day models.Date, opened, closed []models.TradeRow, s models.Summary) string {
	if len(opened) == 0 && len(closed) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*EOM FUND %s*\n", day)
	for _, r := range closed {
		fmt.Fprintf(&b, "🔴 SELL %s @ %s (%s) P/L %s\n", r.Ticker, r.ExitPrice.StringFixed(2), r.Reason, report.Signed(r.PL))
	}
	for _, r := range opened {
		fmt.Fprintf(&b, "🟢 BUY %s @ %s, stake %s\n", r.Ticker, r.EntryPrice.StringFixed(2), report.Money(r.Stake))
	}
	fmt.Fprintf(&b, "NAV %s (%s) | Cash %s", report.Money(s.NAV), report.Percent(s.PLPct), report.Money(s.Cash))
	return b.String()
}

// StatusMessage is the short status sent in reply to /status.
func StatusMessage(s models.Summary, st models.PortfolioState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*EOM FUND %s*\n", s.Date)
	fmt.Fprintf(&b, "NAV %s (%s)\nCash %s | Fees %s\n", report.Money(s.NAV), report.Percent(s.PLPct), report.Money(s.Cash), report.Money(s.FeesPaid))
	if len(st.Positions) == 0 {
		b.WriteString("No open positions.")
		return b.String()
	}
	tickers := make([]string, 0, len(st.Positions))
	for t := range st.Positions {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	for _, t := range tickers {
		p := st.Positions[t]
		fmt.Fprintf(&b, "• %s @ %s, exit %s\n", t, p.EntryPrice.StringFixed(2), p.PlannedExit)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
