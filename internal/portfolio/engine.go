// Package portfolio is the bookkeeping engine of the fund: it closes due
// positions, opens new ones, marks the book to market and derives the ledger,
// NAV sample, summary and snapshot of a run. It does no I/O.
package portfolio

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"

	"eom_fund/internal/models"
	"eom_fund/internal/scanner"
	"eom_fund/internal/storage"

	"github.com/shopspring/decimal"
)

// ErrOutOfOrder is returned for a run dated before the last recorded run.
var ErrOutOfOrder = errors.New("run date precedes last run")

const noSignalMessage = "No positions entered today."

// Day is everything the engine needs to know about the run date.
type Day struct {
	Date         models.Date
	Prices       map[string]decimal.Decimal // latest close per ticker, missing when unquoted
	DataLastDate models.Date
	SignalDate   models.Date // this month's signal date, zero if none
	IsSignalDay  bool
	ExitDate     models.Date      // planned exit for positions opened on Date
	Signals      []scanner.Result // per-ticker scan, used by Fractional sizing
}

// Result holds the new state and every artifact derived from it.
type Result struct {
	State    models.PortfolioState
	Ledger   []models.TradeRow
	Sample   models.NavSample
	Summary  models.Summary
	Snapshot models.Snapshot
	Opened   []models.TradeRow
	Closed   []models.TradeRow
}

// Changed reports whether the run opened or closed anything.
func (r Result) Changed() bool {
	return len(r.Opened) > 0 || len(r.Closed) > 0
}

type Engine struct {
	rules Rules
}

// NewEngine validates rules and returns an engine bound to them.
func NewEngine(rules Rules) (*Engine, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	rules.Tickers = slices.Clone(rules.Tickers)
	return &Engine{rules: rules}, nil
}

func (e *Engine) Rules() Rules {
	r := e.rules
	r.Tickers = slices.Clone(r.Tickers)
	return r
}

// Run applies one day to state and ledger. Neither input is modified. Exits are
// processed before entries so capital freed today can be reinvested today.
// Running twice for the same day with the same inputs yields the same result.
func (e *Engine) Run(state models.PortfolioState, ledger []models.TradeRow, day Day) (Result, error) {
	if day.Date.IsZero() {
		return Result{}, errors.New("portfolio: run date is required")
	}
	if day.Date.Before(state.LastRunDate) {
		return Result{}, fmt.Errorf("portfolio: %s before %s: %w", day.Date, state.LastRunDate, ErrOutOfOrder)
	}
	if !day.ExitDate.After(day.Date) {
		return Result{}, fmt.Errorf("portfolio: planned exit %s must follow run date %s", day.ExitDate, day.Date)
	}

	r := &run{rules: e.rules, day: day, state: state.Clone(), rows: slices.Clone(ledger)}
	if r.state.InitialNAV.IsZero() {
		r.state.InitialNAV = e.rules.InitialNAV
	}

	// 1. Exits
	r.exits()

	// 2. Entries
	switch e.rules.Sizing {
	case EqualWeight:
		r.enterEqualWeight()
	case Fractional:
		r.enterFractional()
	}
	r.state.PlannedExitDate = earliestExit(r.state.Positions)
	r.state.LastRunDate = day.Date

	// 3. Mark to market
	nav := r.nav().Round(2)
	r.state.NAV = nav
	r.rows = storage.Reconcile(r.rows)

	summary := SummaryOf(r.state, day.Date)
	plPct := summary.PLPct

	return Result{
		State:    r.state,
		Ledger:   r.rows,
		Sample:   models.NavSample{Date: day.Date, NAV: nav, PLPct: &plPct},
		Summary:  summary,
		Snapshot: r.snapshot(nav),
		Opened:   r.opened,
		Closed:   r.closed,
	}, nil
}

// SummaryOf digests state as of date, using the NAV last stored in it.
func SummaryOf(state models.PortfolioState, date models.Date) models.Summary {
	pl := state.NAV.Sub(state.InitialNAV)
	return models.Summary{
		Date:          date,
		NAV:           state.NAV,
		InitialNAV:    state.InitialNAV,
		Cash:          state.Cash,
		PL:            pl,
		PLPct:         ratio(pl, state.InitialNAV),
		FeesPaid:      state.FeesPaid,
		OpenPositions: len(state.Positions),
	}
}

// run is the scratch state of a single Engine.Run.
type run struct {
	rules  Rules
	day    Day
	state  models.PortfolioState
	rows   []models.TradeRow
	opened []models.TradeRow
	closed []models.TradeRow
}

// price returns today's usable quote for ticker.
func (r *run) price(ticker string) (decimal.Decimal, bool) {
	px, ok := r.day.Prices[ticker]
	if !ok || !px.IsPositive() {
		return decimal.Zero, false
	}
	return px, true
}

func (r *run) exits() {
	sells := make(map[string]models.Reason)
	if r.rules.Sizing == Fractional {
		for _, s := range r.day.Signals {
			if s.Status != scanner.StatusSell {
				continue
			}
			reason := s.ExitReason
			if reason == "" {
				reason = models.ReasonSell
			}
			sells[s.Ticker] = reason
		}
	}

	for _, ticker := range sortedTickers(r.state.Positions) {
		pos := r.state.Positions[ticker]
		reason, signalled := sells[ticker]
		due := !pos.PlannedExit.IsZero() && pos.PlannedExit.OnOrBefore(r.day.Date)
		if !due && !signalled {
			continue
		}
		if !signalled {
			reason = models.ReasonSell
		}
		px, ok := r.price(ticker)
		if !ok {
			log.Printf("WARN: [%s] no quote on %s, exit deferred", ticker, r.day.Date)
			continue
		}
		r.close(ticker, pos, px, reason)
	}
}

func (r *run) close(ticker string, pos models.Position, px decimal.Decimal, reason models.Reason) {
	fee := r.rules.FeePerLeg
	proceeds := pos.Value(px)
	pl := proceeds.Sub(pos.Stake).Sub(fee)

	r.state.Cash = r.state.Cash.Add(proceeds).Sub(fee)
	r.state.FeesPaid = r.state.FeesPaid.Add(fee)
	delete(r.state.Positions, ticker)

	row := models.TradeRow{
		Ticker:     ticker,
		EntryDate:  pos.EntryDate,
		EntryPrice: pos.EntryPrice,
		ExitDate:   r.day.Date,
		ExitPrice:  px,
		Qty:        pos.Qty,
		Stake:      pos.Stake,
		Fees:       pos.EntryFee.Add(fee),
		PL:         pl.Round(2),
		PLPct:      ratio(pl, pos.Stake),
		Reason:     reason,
	}
	if i := r.openRow(ticker, pos.EntryDate); i >= 0 {
		if pos.EntryFee.IsZero() {
			row.Fees = r.rows[i].Fees.Add(fee)
		}
		r.rows[i] = row
	} else {
		r.rows = append(r.rows, row)
	}
	r.closed = append(r.closed, row)
	log.Printf("INFO: [%s] closed (%s) @ %s | proceeds %s | P/L %s", ticker, reason, px, proceeds.StringFixed(2), row.PL.StringFixed(2))
}

// openRow is the index of the open ledger row of ticker entered on entry, or -1.
func (r *run) openRow(ticker string, entry models.Date) int {
	for i, row := range r.rows {
		if row.IsOpen() && row.Ticker == ticker && row.EntryDate == entry {
			return i
		}
	}
	return -1
}

// roundTripToday reports a position in ticker that was both opened and closed
// on the run date. An open row entered today is not one: it is left behind by
// a run whose state was never saved, and opening again takes it over.
func (r *run) roundTripToday(ticker string) bool {
	for _, row := range r.rows {
		if !row.IsOpen() && row.Ticker == ticker && row.EntryDate == r.day.Date {
			return true
		}
	}
	return false
}

func (r *run) enterEqualWeight() {
	if !r.day.IsSignalDay || len(r.state.Positions) > 0 {
		return
	}
	if r.state.LastSignalDate == r.day.SignalDate {
		log.Printf("INFO: signal %s already traded", r.day.SignalDate)
		return
	}

	var candidates []string
	for _, t := range r.rules.Tickers {
		if _, ok := r.price(t); !ok {
			log.Printf("WARN: [%s] no usable quote on %s, not entered", t, r.day.Date)
			continue
		}
		if r.roundTripToday(t) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return
	}

	n := int64(len(candidates))
	alloc := r.state.Cash.Sub(r.rules.FeePerLeg.Mul(decimal.NewFromInt(n)))
	if !alloc.IsPositive() {
		log.Printf("WARN: cash %s does not cover %d entry fees", r.state.Cash.StringFixed(2), n)
		return
	}
	per := alloc.Div(decimal.NewFromInt(n)).Truncate(2)
	for i, t := range candidates {
		stake := per
		if i == len(candidates)-1 {
			// remainder of the truncation, so stakes and fees add up to cash
			stake = alloc.Sub(per.Mul(decimal.NewFromInt(n - 1)))
		}
		px, _ := r.price(t)
		r.open(t, stake, px)
	}
	r.state.LastSignalDate = r.day.SignalDate
}

func (r *run) enterFractional() {
	free := r.rules.MaxSlots() - len(r.state.Positions)
	if free <= 0 {
		return
	}
	inUniverse := make(map[string]bool, len(r.rules.Tickers))
	for _, t := range r.rules.Tickers {
		inUniverse[t] = true
	}
	var buys []string
	for _, s := range r.day.Signals {
		if s.Status == scanner.StatusBuy && inUniverse[s.Ticker] {
			buys = append(buys, s.Ticker)
		}
	}
	sort.Strings(buys)

	target := r.rules.AllocationFraction.Mul(r.nav())
	fee := r.rules.FeePerLeg
	for _, t := range buys {
		if free <= 0 {
			break
		}
		if r.state.Positions.Holds(t) || r.roundTripToday(t) {
			continue
		}
		px, ok := r.price(t)
		if !ok {
			log.Printf("WARN: [%s] BUY without usable quote, skipped", t)
			continue
		}
		if r.state.Cash.LessThanOrEqual(fee) {
			log.Printf("INFO: [%s] BUY skipped, cash %s", t, r.state.Cash.StringFixed(2))
			continue
		}
		stake := decimal.Min(r.state.Cash.Sub(fee), target).Truncate(2)
		if r.open(t, stake, px) {
			free--
			r.state.LastSignalDate = r.day.Date
		}
	}
}

func (r *run) open(ticker string, stake, px decimal.Decimal) bool {
	if !stake.IsPositive() {
		return false
	}
	fee := r.rules.FeePerLeg
	pos := models.Position{
		Qty:         stake.Div(px),
		EntryPrice:  px,
		EntryDate:   r.day.Date,
		Stake:       stake,
		EntryFee:    fee,
		PlannedExit: r.day.ExitDate,
	}
	if err := r.state.Positions.Open(ticker, pos); err != nil {
		log.Printf("ERROR: %v", err)
		return false
	}
	r.state.Cash = r.state.Cash.Sub(stake).Sub(fee)
	r.state.FeesPaid = r.state.FeesPaid.Add(fee)

	row := models.TradeRow{
		Ticker:     ticker,
		EntryDate:  pos.EntryDate,
		EntryPrice: px,
		Qty:        pos.Qty,
		Stake:      stake,
		Fees:       fee,
		Reason:     models.ReasonBuy,
	}
	if i := r.openRow(ticker, pos.EntryDate); i >= 0 {
		r.rows[i] = row
	} else {
		r.rows = append(r.rows, row)
	}
	r.opened = append(r.opened, row)
	log.Printf("INFO: [%s] opened @ %s | stake %s | exit planned %s", ticker, px, stake.StringFixed(2), pos.PlannedExit)
	return true
}

// nav is cash plus open positions at today's quote, or at entry price when
// a ticker has no quote today.
func (r *run) nav() decimal.Decimal {
	nav := r.state.Cash
	for t, pos := range r.state.Positions {
		px, ok := r.price(t)
		if !ok {
			px = pos.EntryPrice
		}
		nav = nav.Add(pos.Value(px))
	}
	return nav
}

func (r *run) snapshot(nav decimal.Decimal) models.Snapshot {
	latest := make(map[string]decimal.Decimal, len(r.rules.Tickers))
	for _, t := range r.rules.Tickers {
		if px, ok := r.price(t); ok {
			latest[t] = px
		}
	}
	snap := models.Snapshot{
		DateGenerated: r.day.Date,
		Tickers:       slices.Clone(r.rules.Tickers),
		DataLastDate:  r.day.DataLastDate,
		LatestPrices:  latest,
		SignalDate:    r.day.SignalDate,
		IsSignalDay:   r.day.IsSignalDay,
		NAV:           nav,
	}

	if len(r.state.Positions) > 0 {
		var entry models.Date
		prices := make(map[string]decimal.Decimal, len(r.state.Positions))
		for t, pos := range r.state.Positions {
			prices[t] = pos.EntryPrice
			if pos.EntryDate.After(entry) {
				entry = pos.EntryDate
			}
		}
		exit := r.state.PlannedExitDate
		snap.Status = models.StatusOpen
		snap.EntryDate = &entry
		snap.ExitDate = &exit
		snap.EntryPrices = prices
		return snap
	}

	// Derived from the ledger rather than this run's actions, so a rerun of
	// an exit day reports the same status.
	exitPrices := make(map[string]decimal.Decimal)
	for _, row := range r.rows {
		if row.ExitDate == r.day.Date {
			exitPrices[row.Ticker] = row.ExitPrice
		}
	}
	if len(exitPrices) > 0 {
		today := r.day.Date
		snap.Status = models.StatusClosed
		snap.ExitDate = &today
		snap.ExitPrices = exitPrices
		return snap
	}

	snap.Status = models.StatusNoSignal
	snap.Message = noSignalMessage
	return snap
}

func earliestExit(ps models.Positions) models.Date {
	var first models.Date
	for _, p := range ps {
		if p.PlannedExit.IsZero() {
			continue
		}
		if first.IsZero() || p.PlannedExit.Before(first) {
			first = p.PlannedExit
		}
	}
	return first
}

func sortedTickers(ps models.Positions) []string {
	out := make([]string, 0, len(ps))
	for t := range ps {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ratio is num/den rounded to six places, zero when den is not positive.
func ratio(num, den decimal.Decimal) decimal.Decimal {
	if !den.IsPositive() {
		return decimal.Zero
	}
	return num.Div(den).Round(6)
}
