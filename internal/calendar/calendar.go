// Package calendar implements the exchange trading calendar and the
// end-of-month signal oracle built on it.
package calendar

import (
	"time"

	"eom_fund/internal/models"
)

// Calendar tells trading days from holidays and weekends.
type Calendar interface {
	IsTradingDay(d models.Date) bool
}

// Oslo is the Oslo Børs (XOSL) calendar.
type Oslo struct{}

// IsTradingDay reports whether the exchange is open on d.
func (Oslo) IsTradingDay(d models.Date) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !osloHoliday(d)
}

func osloHoliday(d models.Date) bool {
	switch {
	case d.Month() == time.January && d.Day() == 1,
		d.Month() == time.May && d.Day() == 1,
		d.Month() == time.May && d.Day() == 17,
		d.Month() == time.December && d.Day() >= 24 && d.Day() <= 26,
		d.Month() == time.December && d.Day() == 31:
		return true
	}
	easter := Easter(d.Year())
	for _, offset := range []int{-3, -2, 1, 39, 50} { // Maundy Thursday, Good Friday, Easter Monday, Ascension, Whit Monday
		if d == easter.AddDays(offset) {
			return true
		}
	}
	return false
}

// Easter returns Easter Sunday of year (anonymous Gregorian algorithm).
func Easter(year int) models.Date {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return models.NewDate(year, time.Month(month), day)
}

// TradingDays lists the trading days in [from, to], both included.
func TradingDays(cal Calendar, from, to models.Date) []models.Date {
	var days []models.Date
	for d := from; !d.After(to); d = d.AddDays(1) {
		if cal.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}
