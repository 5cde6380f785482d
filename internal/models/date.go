package models

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day without time of day or location.
// The zero value means "no date" and is persisted as null (JSON) or "" (CSV).
type Date struct {
	year  int
	month time.Month
	day   int
}

// NewDate returns the normalized date y-m-d (overflowing days roll forward like time.Date).
func NewDate(y int, m time.Month, d int) Date {
	return DateOf(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{year: y, month: m, day: d}
}

// Today returns the current calendar day in loc.
func Today(loc *time.Location) Date {
	return DateOf(time.Now().In(loc))
}

// ParseDate accepts "2006-01-02" and the longer timestamp forms that end up in
// hand-edited or older files ("2006-01-02 15:04:05", RFC3339). The time part is dropped.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	for _, layout := range []string{dateLayout, "2006-01-02 15:04:05", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q", s)
}

func (d Date) IsZero() bool           { return d == Date{} }
func (d Date) Year() int              { return d.year }
func (d Date) Month() time.Month      { return d.month }
func (d Date) Day() int               { return d.day }
func (d Date) Weekday() time.Weekday  { return d.Time().Weekday() }
func (d Date) Before(o Date) bool     { return d.Time().Before(o.Time()) }
func (d Date) After(o Date) bool      { return d.Time().After(o.Time()) }
func (d Date) AddDays(n int) Date     { return DateOf(d.Time().AddDate(0, 0, n)) }
func (d Date) Time() time.Time        { return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC) }
func (d Date) SameMonth(o Date) bool  { return d.year == o.year && d.month == o.month }
func (d Date) Compare(o Date) int     { return d.Time().Compare(o.Time()) }
func (d Date) OnOrBefore(o Date) bool { return !d.After(o) }

// String returns the ISO form, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*d = Date{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date %s", s)
	}
	v, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = v
	return nil
}
