// Package scanner walks a ticker's close series and reports today's trading status.
//
// A band day is a day whose 1, 2 or 3-day return lies in [BandLow, BandHigh].
// A trade is entered on the first day after a band day that closes above the
// band day. It exits at the profit target, or at break-even once the trade has
// been armed by a close above entry on a later day.
package scanner

import (
	"eom_fund/internal/models"

	"github.com/shopspring/decimal"
)

// Status is the scanner verdict for the last day of a series.
type Status string

const (
	StatusBuy        Status = "BUY"
	StatusSell       Status = "SELL"
	StatusCaution    Status = "CAUTION"     // in position, close fell
	StatusInPosition Status = "IN_POSITION" // in position
	StatusHold       Status = "HOLD"        // flat
)

// Params tunes the scan.
type Params struct {
	BandLow   decimal.Decimal
	BandHigh  decimal.Decimal
	Target    decimal.Decimal
	Lookbacks []int
}

// DefaultParams are the values the fund has always traded with.
func DefaultParams() Params {
	return Params{
		BandLow:   decimal.RequireFromString("-0.04"),
		BandHigh:  decimal.RequireFromString("-0.03"),
		Target:    decimal.RequireFromString("0.05"),
		Lookbacks: []int{1, 2, 3},
	}
}

// Point is one close of a series.
type Point struct {
	Date  models.Date
	Close decimal.Decimal
}

// Result is the status of the last day of the series.
type Result struct {
	Ticker     string
	Date       models.Date
	Status     Status
	LastPrice  decimal.Decimal
	EntryDate  models.Date     // set while in position or on BUY
	EntryPrice decimal.Decimal // set while in position, on BUY and on SELL
	ExitReason models.Reason   // TARGET or BREAKEVEN on SELL
}

type openTrade struct {
	date  models.Date
	price decimal.Decimal
	armed bool
}

// Scan evaluates series (ascending, no gaps in the slice) and returns the status of its last day.
// An empty series yields a zero Result.
func Scan(ticker string, series []Point, p Params) Result {
	if len(series) == 0 {
		return Result{}
	}
	one := decimal.NewFromInt(1)
	target := one.Add(p.Target)

	isBand := func(i int) bool {
		for _, k := range p.Lookbacks {
			if i-k < 0 || series[i-k].Close.IsZero() {
				continue
			}
			r := series[i].Close.Div(series[i-k].Close).Sub(one)
			if r.GreaterThanOrEqual(p.BandLow) && r.LessThanOrEqual(p.BandHigh) {
				return true
			}
		}
		return false
	}

	last := len(series) - 1
	var trade *openTrade
	for i, pt := range series {
		today := i == last
		if trade == nil {
			if i >= 1 && isBand(i-1) && pt.Close.GreaterThan(series[i-1].Close) {
				trade = &openTrade{date: pt.Date, price: pt.Close}
				if today {
					return result(ticker, pt, StatusBuy, trade, "")
				}
			}
			continue
		}

		if pt.Date.After(trade.date) && pt.Close.GreaterThan(trade.price) {
			trade.armed = true
		}
		switch {
		case pt.Close.GreaterThanOrEqual(trade.price.Mul(target)):
			if today {
				return result(ticker, pt, StatusSell, trade, models.ReasonTarget)
			}
			trade = nil
		case trade.armed && pt.Close.LessThan(trade.price):
			if today {
				return result(ticker, pt, StatusSell, trade, models.ReasonBreakeven)
			}
			trade = nil
		case today && pt.Close.LessThan(series[i-1].Close):
			return result(ticker, pt, StatusCaution, trade, "")
		}
	}

	if trade != nil {
		return result(ticker, series[last], StatusInPosition, trade, "")
	}
	return result(ticker, series[last], StatusHold, nil, "")
}

func result(ticker string, pt Point, s Status, trade *openTrade, reason models.Reason) Result {
	r := Result{Ticker: ticker, Date: pt.Date, Status: s, LastPrice: pt.Close, ExitReason: reason}
	if trade != nil {
		r.EntryDate = trade.date
		r.EntryPrice = trade.price
	}
	return r
}
