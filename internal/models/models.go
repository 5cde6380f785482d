package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// The persisted files are consumed by a JavaScript front end that expects
// plain JSON numbers rather than quoted decimals.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// ErrPositionExists is returned when a second position is opened for a ticker already held.
var ErrPositionExists = errors.New("position already open")

// Reason is the reason code of a trade ledger row.
type Reason string

const (
	ReasonBuy       Reason = "BUY"       // open trade
	ReasonSell      Reason = "SELL"      // scheduled exit
	ReasonTarget    Reason = "TARGET"    // profit target hit
	ReasonBreakeven Reason = "BREAKEVEN" // armed break-even stop hit
)

// Position is one open holding. Quantity * EntryPrice equals Stake up to rounding.
type Position struct {
	Qty         decimal.Decimal `json:"qty"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	EntryDate   Date            `json:"entry_date"`
	Stake       decimal.Decimal `json:"stake_nok"` // capital committed, entry fee excluded
	EntryFee    decimal.Decimal `json:"entry_fee"`
	PlannedExit Date            `json:"planned_exit_date"`
}

// Value marks the position to market at price.
func (p Position) Value(price decimal.Decimal) decimal.Decimal {
	return p.Qty.Mul(price)
}

// Positions maps ticker to its single open position.
type Positions map[string]Position

// Open inserts a new position, refusing to overwrite one that is already held.
func (ps Positions) Open(ticker string, p Position) error {
	if _, held := ps[ticker]; held {
		return fmt.Errorf("%s: %w", ticker, ErrPositionExists)
	}
	ps[ticker] = p
	return nil
}

// Holds reports whether ticker has an open position.
func (ps Positions) Holds(ticker string) bool {
	_, ok := ps[ticker]
	return ok
}

// PortfolioState tracks cash, open positions and the batch schedule.
// This struct matches the structure of the JSON state file.
type PortfolioState struct {
	Version         string          `json:"version"`
	InitialNAV      decimal.Decimal `json:"initial_nav"` // set once on creation
	NAV             decimal.Decimal `json:"nav"`         // last computed NAV
	Cash            decimal.Decimal `json:"cash"`
	FeesPaid        decimal.Decimal `json:"fees_paid"`
	Positions       Positions       `json:"open_positions"`
	PlannedExitDate Date            `json:"planned_exit_date"`
	LastSignalDate  Date            `json:"last_signal_date"`
	LastRunDate     Date            `json:"last_run_date"`
}

// Clone returns a deep copy, so a run can work on a scratch state.
func (s PortfolioState) Clone() PortfolioState {
	c := s
	c.Positions = make(Positions, len(s.Positions))
	for t, p := range s.Positions {
		c.Positions[t] = p
	}
	return c
}

// TradeKey identifies a ledger row. Rows sharing a key are duplicates.
type TradeKey struct {
	Ticker    string
	EntryDate Date
	ExitDate  Date
}

// TradeRow is one line of the trade ledger, open (ExitDate zero) or closed.
type TradeRow struct {
	Ticker     string
	EntryDate  Date
	EntryPrice decimal.Decimal
	ExitDate   Date
	ExitPrice  decimal.Decimal
	Qty        decimal.Decimal
	Stake      decimal.Decimal
	Fees       decimal.Decimal // entry fee, plus exit fee once closed
	PL         decimal.Decimal
	PLPct      decimal.Decimal
	Reason     Reason
}

func (r TradeRow) IsOpen() bool { return r.ExitDate.IsZero() }

func (r TradeRow) Key() TradeKey {
	return TradeKey{Ticker: r.Ticker, EntryDate: r.EntryDate, ExitDate: r.ExitDate}
}

// NavSample is the NAV of one calendar date.
type NavSample struct {
	Date  Date             `json:"date"`
	NAV   decimal.Decimal  `json:"nav"`
	PLPct *decimal.Decimal `json:"pl_pct,omitempty"`
}

// Summary is the lifetime performance digest written after each run.
type Summary struct {
	Date          Date            `json:"date"`
	NAV           decimal.Decimal `json:"nav"`
	InitialNAV    decimal.Decimal `json:"initial_nav"`
	Cash          decimal.Decimal `json:"cash"`
	PL            decimal.Decimal `json:"pl_nok"`
	PLPct         decimal.Decimal `json:"pl_pct"`
	FeesPaid      decimal.Decimal `json:"fees_paid"`
	OpenPositions int             `json:"open_positions"`
}

// Snapshot statuses, mutually exclusive for a run.
const (
	StatusOpen     = "signal-open"
	StatusClosed   = "signal-closed"
	StatusNoSignal = "no-signal"
)

// Snapshot is the front end view of today's status.
type Snapshot struct {
	DateGenerated Date                       `json:"date_generated"`
	Tickers       []string                   `json:"tickers"`
	DataLastDate  Date                       `json:"data_last_date"`
	LatestPrices  map[string]decimal.Decimal `json:"latest_prices"`
	SignalDate    Date                       `json:"signal_date"`
	IsSignalDay   bool                       `json:"is_signal_day"`
	NAV           decimal.Decimal            `json:"nav"`
	Status        string                     `json:"status"`

	// signal-open
	EntryDate   *Date                      `json:"entry_date,omitempty"`
	EntryPrices map[string]decimal.Decimal `json:"entry_prices,omitempty"`
	// signal-open (planned) and signal-closed (actual)
	ExitDate   *Date                      `json:"exit_date,omitempty"`
	ExitPrices map[string]decimal.Decimal `json:"exit_prices,omitempty"`
	// no-signal
	Message string `json:"message,omitempty"`
}
