package calendar

import (
	"slices"

	"eom_fund/internal/models"
)

// exitWindowDays bounds the forward search for the exit date.
const exitWindowDays = 30

// Oracle decides signal days and exit dates.
//
// A signal day is the trading day Offset positions before the last trading day
// of a month (Offset 0 is the last trading day). A batch entered on a signal
// day exits HoldDays trading days later.
type Oracle struct {
	Calendar Calendar
	Offset   int
	HoldDays int
}

// NewOracle returns an Oracle on the Oslo calendar.
func NewOracle(offset, holdDays int) *Oracle {
	return &Oracle{Calendar: Oslo{}, Offset: offset, HoldDays: holdDays}
}

// SignalDates returns, for every month that appears in days, that month's signal date.
// days are the dates of the price history and need not be sorted.
func (o *Oracle) SignalDates(days []models.Date) []models.Date {
	seen := make(map[[2]int]bool)
	var out []models.Date
	for _, d := range days {
		key := [2]int{d.Year(), int(d.Month())}
		if seen[key] {
			continue
		}
		seen[key] = true
		if s, ok := o.monthSignal(d); ok {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, models.Date.Compare)
	return out
}

// SignalFor returns the signal date of today's month when the history covers
// that month, and whether today is that date.
func (o *Oracle) SignalFor(today models.Date, history []models.Date) (models.Date, bool) {
	for _, s := range o.SignalDates(history) {
		if s.SameMonth(today) {
			return s, s == today
		}
	}
	return models.Date{}, false
}

// ExitDate returns the HoldDays-th trading day after entry. When the search
// window holds fewer trading days, the last one available is used.
func (o *Oracle) ExitDate(entry models.Date) models.Date {
	days := TradingDays(o.Calendar, entry.AddDays(1), entry.AddDays(exitWindowDays))
	if len(days) == 0 {
		return entry
	}
	if idx := o.HoldDays - 1; idx < len(days) {
		return days[max(idx, 0)]
	}
	return days[len(days)-1]
}

func (o *Oracle) monthSignal(d models.Date) (models.Date, bool) {
	first := models.NewDate(d.Year(), d.Month(), 1)
	last := models.NewDate(d.Year(), d.Month()+1, 0)
	days := TradingDays(o.Calendar, first, last)
	idx := len(days) - 1 - o.Offset
	if idx < 0 {
		return models.Date{}, false
	}
	return days[idx], true
}
