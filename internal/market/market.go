// Package market defines the price source the fund reads closes from, and the
// daily close history it returns.
package market

import (
	"context"
	"errors"
	"math"
	"slices"
	"sort"

	"eom_fund/internal/models"
	"eom_fund/internal/scanner"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when a ticker has no usable quote for the requested date.
var ErrNoPrice = errors.New("no price")

// PriceSource supplies daily closes. Implementations should return every ticker
// they have data for; tickers without data are simply absent from the History.
// An error means the whole fetch failed and the run must not proceed.
type PriceSource interface {
	History(ctx context.Context, tickers []string, from models.Date) (History, error)
}

// Bar is one daily close.
type Bar struct {
	Date  models.Date     `json:"date"`
	Close decimal.Decimal `json:"close"`
}

// History maps ticker to its ascending daily closes.
type History map[string][]Bar

// Add appends a close for ticker, ignoring non-finite and non-positive closes.
// Call Normalize after the last Add.
func (h History) Add(ticker string, date models.Date, close float64) {
	if math.IsNaN(close) || math.IsInf(close, 0) || close <= 0 {
		return
	}
	h[ticker] = append(h[ticker], Bar{Date: date, Close: decimal.NewFromFloat(close)})
}

// AddDecimal is Add for values already parsed as decimals.
func (h History) AddDecimal(ticker string, date models.Date, close decimal.Decimal) {
	if !close.IsPositive() {
		return
	}
	h[ticker] = append(h[ticker], Bar{Date: date, Close: close})
}

// Normalize sorts every series by date and keeps the last close given for a date.
func (h History) Normalize() History {
	for t, bars := range h {
		sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
		out := bars[:0]
		for _, b := range bars {
			if n := len(out); n > 0 && out[n-1].Date == b.Date {
				out[n-1] = b
				continue
			}
			out = append(out, b)
		}
		if len(out) == 0 {
			delete(h, t)
			continue
		}
		h[t] = out
	}
	return h
}

// Dates returns the union of trading dates across tickers, ascending.
func (h History) Dates() []models.Date {
	seen := make(map[models.Date]bool)
	var out []models.Date
	for _, bars := range h {
		for _, b := range bars {
			if !seen[b.Date] {
				seen[b.Date] = true
				out = append(out, b.Date)
			}
		}
	}
	slices.SortFunc(out, models.Date.Compare)
	return out
}

// LastDate is the most recent date any ticker has a close for.
func (h History) LastDate() models.Date {
	var last models.Date
	for _, bars := range h {
		if n := len(bars); n > 0 && bars[n-1].Date.After(last) {
			last = bars[n-1].Date
		}
	}
	return last
}

// PricesOn returns, for every ticker that has a close on date, that close.
// A ticker that did not trade on date is absent.
func (h History) PricesOn(date models.Date) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(h))
	for t, bars := range h {
		i := sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(date) })
		if i < len(bars) && bars[i].Date == date {
			out[t] = bars[i].Close
		}
	}
	return out
}

// LatestPrices is PricesOn(LastDate()).
func (h History) LatestPrices() map[string]decimal.Decimal {
	return h.PricesOn(h.LastDate())
}

// Series returns the closes of ticker up to and including date, for the scanner.
func (h History) Series(ticker string, upTo models.Date) []scanner.Point {
	var pts []scanner.Point
	for _, b := range h[ticker] {
		if b.Date.After(upTo) {
			break
		}
		pts = append(pts, scanner.Point{Date: b.Date, Close: b.Close})
	}
	return pts
}

// Price returns the close of ticker on date, or ErrNoPrice.
func (h History) Price(ticker string, date models.Date) (decimal.Decimal, error) {
	if p, ok := h.PricesOn(date)[ticker]; ok {
		return p, nil
	}
	return decimal.Zero, ErrNoPrice
}

// Until returns a copy holding only closes on or before date, so a back-filled
// run cannot see prices from its future.
func (h History) Until(date models.Date) History {
	out := make(History, len(h))
	for t, bars := range h {
		i := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(date) })
		if i > 0 {
			out[t] = slices.Clone(bars[:i])
		}
	}
	return out
}
