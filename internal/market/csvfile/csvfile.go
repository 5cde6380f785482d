// Package csvfile serves closes from a long-format CSV file
// (date,ticker,close), for offline runs and back-fills.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"eom_fund/internal/market"
	"eom_fund/internal/models"

	"github.com/shopspring/decimal"
)

// Source implements market.PriceSource over a CSV file.
type Source struct {
	Path string
}

var _ market.PriceSource = (*Source)(nil)

func New(path string) *Source {
	return &Source{Path: path}
}

// History reads the file on every call, so edits between runs are picked up.
func (s *Source) History(_ context.Context, tickers []string, from models.Date) (market.History, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("csvfile: %w", err)
	}
	defer f.Close()
	return Read(f, tickers, from)
}

// Read parses date,ticker,close records. Only the requested tickers on or after
// from are kept. Empty or unparsable closes are skipped like missing quotes.
func Read(r io.Reader, tickers []string, from models.Date) (market.History, error) {
	want := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		want[t] = true
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.ReuseRecord = true

	h := market.History{}
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvfile: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "date") {
			continue
		}
		ticker := strings.TrimSpace(rec[1])
		if !want[ticker] {
			continue
		}
		date, err := models.ParseDate(rec[0])
		if err != nil {
			return nil, fmt.Errorf("csvfile: line %d: %w", line, err)
		}
		if date.Before(from) {
			continue
		}
		px, err := decimal.NewFromString(strings.TrimSpace(rec[2]))
		if err != nil {
			continue
		}
		h.AddDecimal(ticker, date, px)
	}
	return h.Normalize(), nil
}
