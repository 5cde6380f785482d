package storage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"

	"eom_fund/internal/models"

	"github.com/shopspring/decimal"
)

// LedgerHeader is the fixed column layout of the trade ledger.
var LedgerHeader = []string{
	"Ticker", "EntryDate", "EntryPrice",
	"ExitDate", "ExitPrice",
	"Qty", "StakeNOK", "FeesNOK",
	"PL_NOK", "PL_PCT", "Reason",
}

// LedgerStore persists the trade ledger as CSV.
type LedgerStore struct {
	Path string
}

func NewLedgerStore(path string) *LedgerStore {
	return &LedgerStore{Path: path}
}

// Load returns every row of the ledger. A missing file is an empty ledger.
func (l *LedgerStore) Load() ([]models.TradeRow, error) {
	f, err := os.Open(l.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open ledger %s: %w", l.Path, err)
	}
	defer f.Close()

	rows, err := ReadLedger(f)
	if err != nil {
		return nil, fmt.Errorf("storage: ledger %s: %w", l.Path, err)
	}
	return rows, nil
}

// Save reconciles rows and replaces the ledger file atomically.
func (l *LedgerStore) Save(rows []models.TradeRow) error {
	var buf bytes.Buffer
	if err := WriteLedger(&buf, Reconcile(rows)); err != nil {
		return err
	}
	return WriteFileAtomic(l.Path, buf.Bytes())
}

// Reconcile drops rows whose (ticker, entry date, exit date) key was already
// seen, keeping the first occurrence, and sorts by that key. Open rows sort after
// closed rows of the same entry.
func Reconcile(rows []models.TradeRow) []models.TradeRow {
	seen := make(map[models.TradeKey]bool, len(rows))
	out := make([]models.TradeRow, 0, len(rows))
	for _, r := range rows {
		k := r.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b models.TradeRow) int {
		if c := strings.Compare(a.Ticker, b.Ticker); c != 0 {
			return c
		}
		if c := a.EntryDate.Compare(b.EntryDate); c != 0 {
			return c
		}
		switch {
		case a.IsOpen() && b.IsOpen():
			return 0
		case a.IsOpen():
			return 1
		case b.IsOpen():
			return -1
		}
		return a.ExitDate.Compare(b.ExitDate)
	})
	return out
}

// ReadLedger decodes a ledger CSV, header included.
func ReadLedger(r io.Reader) ([]models.TradeRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range LedgerHeader {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %s", ErrCorruptState, name)
		}
	}

	rows := make([]models.TradeRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		line := i + 2
		get := func(name string) string {
			if j := col[name]; j < len(rec) {
				return strings.TrimSpace(rec[j])
			}
			return ""
		}
		var row models.TradeRow
		var errs []error
		row.Ticker = get("Ticker")
		row.EntryDate, err = models.ParseDate(get("EntryDate"))
		errs = append(errs, err)
		row.ExitDate, err = models.ParseDate(get("ExitDate"))
		errs = append(errs, err)
		row.EntryPrice, err = parseAmount(get("EntryPrice"))
		errs = append(errs, err)
		row.ExitPrice, err = parseAmount(get("ExitPrice"))
		errs = append(errs, err)
		row.Qty, err = parseAmount(get("Qty"))
		errs = append(errs, err)
		row.Stake, err = parseAmount(get("StakeNOK"))
		errs = append(errs, err)
		row.Fees, err = parseAmount(get("FeesNOK"))
		errs = append(errs, err)
		row.PL, err = parseAmount(get("PL_NOK"))
		errs = append(errs, err)
		row.PLPct, err = parseAmount(get("PL_PCT"))
		errs = append(errs, err)
		row.Reason = models.Reason(get("Reason"))
		if err := errors.Join(errs...); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorruptState, line, err)
		}
		if row.Ticker == "" || row.EntryDate.IsZero() {
			return nil, fmt.Errorf("%w: line %d: ticker and entry date are required", ErrCorruptState, line)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteLedger encodes rows as CSV with the fixed header. Open rows leave the
// exit and P&L columns empty.
func WriteLedger(w io.Writer, rows []models.TradeRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LedgerHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.Ticker,
			r.EntryDate.String(),
			r.EntryPrice.String(),
			"", "",
			r.Qty.String(),
			r.Stake.String(),
			r.Fees.String(),
			"", "",
			string(r.Reason),
		}
		if !r.IsOpen() {
			rec[3] = r.ExitDate.String()
			rec[4] = r.ExitPrice.String()
			rec[8] = r.PL.String()
			rec[9] = r.PLPct.String()
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// parseAmount accepts the empty cells and NaN markers that spreadsheet tools leave behind.
func parseAmount(s string) (decimal.Decimal, error) {
	switch strings.ToLower(s) {
	case "", "nan", "none", "null":
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
