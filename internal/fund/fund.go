// Package fund runs the daily cycle: fetch closes, consult the oracle and the
// scanner, apply the engine, persist the books and publish the artifacts.
package fund

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"eom_fund/internal/calendar"
	"eom_fund/internal/chart"
	"eom_fund/internal/market"
	"eom_fund/internal/models"
	"eom_fund/internal/notify"
	"eom_fund/internal/portfolio"
	"eom_fund/internal/publish"
	"eom_fund/internal/report"
	"eom_fund/internal/scanner"
	"eom_fund/internal/storage"

	"github.com/google/uuid"
)

// ErrNoData is returned when the price source has nothing for the universe.
var ErrNoData = errors.New("no price data")

// DefaultRecent is how many closed trades the status report lists.
const DefaultRecent = 10

// Fund wires the collaborators of a run together.
type Fund struct {
	Prices   market.PriceSource
	Oracle   *calendar.Oracle
	Engine   *portfolio.Engine
	Scan     scanner.Params
	State    *storage.StateStore
	Ledger   *storage.LedgerStore
	Nav      *storage.NavStore
	Sink     publish.Sink
	Notifier notify.Notifier
	Lookback int // calendar days of history fetched per run
	Recent   int
	Zone     *time.Location // decides what today is for chat commands
}

// New returns a Fund keeping its books under dataDir.
func New(engine *portfolio.Engine, oracle *calendar.Oracle, prices market.PriceSource, dataDir string) *Fund {
	rules := engine.Rules()
	return &Fund{
		Prices:   prices,
		Oracle:   oracle,
		Engine:   engine,
		Scan:     scanner.DefaultParams(),
		State:    storage.NewStateStore(filepath.Join(dataDir, publish.StateFile), rules.InitialNAV),
		Ledger:   storage.NewLedgerStore(filepath.Join(dataDir, publish.LedgerFile)),
		Nav:      storage.NewNavStore(filepath.Join(dataDir, publish.NavFile)),
		Sink:     publish.Multi{},
		Notifier: notify.Nop{},
		Lookback: 400,
		Recent:   DefaultRecent,
		Zone:     time.Local,
	}
}

func (f *Fund) today() models.Date {
	return models.Today(f.Zone)
}

// Outcome is what a run produced.
type Outcome struct {
	RunID   string
	Result  portfolio.Result
	History []models.NavSample
}

// RunOnce processes today. Nothing is written unless prices were fetched and
// the books loaded cleanly. The ledger and NAV history are saved before the
// state, so an interrupted run is repaired by running the same day again.
func (f *Fund) RunOnce(ctx context.Context, today models.Date) (Outcome, error) {
	runID := uuid.NewString()
	rules := f.Engine.Rules()
	log.Printf("INFO: Run %s for %s (%d tickers)", runID, today, len(rules.Tickers))

	day, err := f.day(ctx, today, rules.Tickers)
	if err != nil {
		return Outcome{}, fmt.Errorf("fund: run %s: %w", runID, err)
	}

	state, err := f.State.Load()
	if err != nil {
		return Outcome{}, err
	}
	ledger, err := f.Ledger.Load()
	if err != nil {
		return Outcome{}, err
	}

	res, err := f.Engine.Run(state, ledger, day)
	if err != nil {
		return Outcome{}, err
	}

	if err := f.Ledger.Save(res.Ledger); err != nil {
		return Outcome{}, err
	}
	history, err := f.Nav.Upsert(res.Sample)
	if err != nil {
		return Outcome{}, err
	}
	if err := f.State.Save(res.State); err != nil {
		return Outcome{}, err
	}
	log.Printf("INFO: Run %s done: status=%s nav=%s cash=%s open=%d",
		runID, res.Snapshot.Status, res.Summary.NAV.StringFixed(2), res.State.Cash.StringFixed(2), len(res.State.Positions))

	out := Outcome{RunID: runID, Result: res, History: history}
	if err := f.publish(ctx, out); err != nil {
		// the books are saved; a rerun republishes
		log.Printf("ERROR: Publishing run %s: %v", runID, err)
	}

	if msg := notify.RunMessage(today, res.Opened, res.Closed, res.Summary); msg != "" {
		if err := f.Notifier.Notify(ctx, msg); err != nil {
			log.Printf("WARN: Notification failed: %v", err)
		}
	}
	return out, nil
}

// day gathers what the engine needs to know about today.
func (f *Fund) day(ctx context.Context, today models.Date, tickers []string) (portfolio.Day, error) {
	hist, err := f.Prices.History(ctx, tickers, today.AddDays(-f.Lookback))
	if err != nil {
		return portfolio.Day{}, fmt.Errorf("fetch prices: %w", err)
	}
	hist = hist.Until(today)
	last := hist.LastDate()
	if last.IsZero() {
		return portfolio.Day{}, ErrNoData
	}
	if last.Before(today) {
		log.Printf("INFO: Latest close is %s, run date %s", last, today)
	}

	prices := hist.PricesOn(last)
	for _, t := range tickers {
		if _, ok := prices[t]; !ok {
			log.Printf("WARN: [%s] No close on %s", t, last)
		}
	}

	signalDate, isSignal := f.Oracle.SignalFor(today, append(hist.Dates(), today))

	var signals []scanner.Result
	for _, t := range tickers {
		series := hist.Series(t, today)
		if len(series) == 0 {
			continue
		}
		res := scanner.Scan(t, series, f.Scan)
		if res.Date != last {
			// a stale verdict must not trade today
			continue
		}
		signals = append(signals, res)
	}

	return portfolio.Day{
		Date:         today,
		Prices:       prices,
		DataLastDate: last,
		SignalDate:   signalDate,
		IsSignalDay:  isSignal,
		ExitDate:     f.Oracle.ExitDate(today),
		Signals:      signals,
	}, nil
}

// publish writes every artifact to the sink. All artifacts are attempted.
func (f *Fund) publish(ctx context.Context, out Outcome) error {
	res := out.Result
	var errs []error
	put := func(name string, data []byte) {
		if err := f.Sink.Put(ctx, name, data, publish.ContentType(name)); err != nil {
			errs = append(errs, err)
		}
	}
	putJSON := func(name string, v any) {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal %s: %w", name, err))
			return
		}
		put(name, append(b, '\n'))
	}

	putJSON(publish.SnapshotFile, res.Snapshot)
	putJSON(publish.StateFile, res.State)
	putJSON(publish.NavFile, out.History)
	putJSON(publish.SummaryFile, res.Summary)

	var csv bytes.Buffer
	if err := storage.WriteLedger(&csv, res.Ledger); err != nil {
		errs = append(errs, err)
	} else {
		put(publish.LedgerFile, csv.Bytes())
	}

	put(publish.StatusFile, []byte(report.Markdown(f.reportInput(res.Summary, res.State, res.Ledger))))

	png, err := chart.NAV(out.History, res.State.InitialNAV)
	if err != nil {
		errs = append(errs, err)
	} else {
		put(publish.ChartFile, png)
	}
	return errors.Join(errs...)
}

func (f *Fund) reportInput(s models.Summary, st models.PortfolioState, ledger []models.TradeRow) report.Input {
	return report.Input{Summary: s, State: st, Ledger: ledger, Recent: f.Recent}
}

// Books loads the stored state and ledger and digests them as of today. No
// prices are fetched: the NAV is the one recorded by the last run.
func (f *Fund) Books(today models.Date) (models.Summary, models.PortfolioState, []models.TradeRow, error) {
	state, err := f.State.Load()
	if err != nil {
		return models.Summary{}, models.PortfolioState{}, nil, err
	}
	ledger, err := f.Ledger.Load()
	if err != nil {
		return models.Summary{}, models.PortfolioState{}, nil, err
	}
	return portfolio.SummaryOf(state, today), state, ledger, nil
}

// Status builds the markdown report of the stored books.
func (f *Fund) Status(today models.Date) (string, error) {
	s, state, ledger, err := f.Books(today)
	if err != nil {
		return "", err
	}
	return report.Markdown(f.reportInput(s, state, ledger)), nil
}

// Plot renders the stored NAV history.
func (f *Fund) Plot() ([]byte, error) {
	history, err := f.Nav.Load()
	if err != nil {
		return nil, err
	}
	state, err := f.State.Load()
	if err != nil {
		return nil, err
	}
	return chart.NAV(history, state.InitialNAV)
}
